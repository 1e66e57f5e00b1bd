// Package repotest поднимает in-memory sqlite со схемой приложения и
// наполняет ее типовыми данными для тестов.
package repotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// одно соединение: транзакции сериализуются, как row-lock в postgres
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

func NewStore(t testing.TB) *repository.Store {
	return repository.NewStore(NewDB(t))
}

func User(t testing.TB, s *repository.Store, role domain.Role) *domain.User {
	t.Helper()
	name := uuid.NewString()[:8]
	u := &domain.User{
		Username: "user-" + name,
		Email:    name + "@example.com",
		Password: "x",
		Role:     role,
	}
	require.NoError(t, s.Users.Create(context.Background(), u))
	require.NoError(t, s.Users.EnsureProfile(context.Background(), u.ID, role))
	return u
}

// Course создает курс с модулем на lessons уроков.
func Course(t testing.TB, s *repository.Store, instructorID uuid.UUID, status domain.CourseStatus, priceCents int64, lessons int) (*domain.Course, []domain.Lesson) {
	t.Helper()
	ctx := context.Background()

	c := &domain.Course{
		InstructorID: instructorID,
		Title:        "Course " + uuid.NewString()[:8],
		Description:  "desc",
		PriceCents:   priceCents,
		Status:       status,
	}
	require.NoError(t, s.Courses.Create(ctx, c))

	m := &domain.Module{CourseID: c.ID, Title: "Module 1", Order: 1}
	require.NoError(t, s.Courses.CreateModule(ctx, m))

	out := make([]domain.Lesson, 0, lessons)
	for i := 1; i <= lessons; i++ {
		l := &domain.Lesson{ModuleID: m.ID, Title: fmt.Sprintf("Lesson %d", i), Order: i}
		require.NoError(t, s.Courses.CreateLesson(ctx, l))
		out = append(out, *l)
	}
	return c, out
}
