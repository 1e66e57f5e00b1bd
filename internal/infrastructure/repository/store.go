package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemarket/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store собирает репозитории поверх одного *gorm.DB (или транзакции).
type Store struct {
	db *gorm.DB

	Users       *UserRepository
	Courses     *CourseRepository
	Enrollments *EnrollmentRepository
	Payments    *PaymentRepository
	Webhooks    *WebhookRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Users:       NewUserRepository(db),
		Courses:     NewCourseRepository(db),
		Enrollments: NewEnrollmentRepository(db),
		Payments:    NewPaymentRepository(db),
		Webhooks:    NewWebhookRepository(db),
	}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Transaction выполняет fn в одной транзакции; любая ошибка откатывает все записи.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{}, &domain.StudentProfile{}, &domain.InstructorProfile{},
		&domain.Category{}, &domain.Course{}, &domain.Module{}, &domain.Lesson{}, &domain.Content{},
		&domain.Enrollment{}, &domain.LessonProgress{}, &domain.CourseProgress{},
		&domain.Payment{}, &domain.WebhookEvent{},
	)
}

type PostgresConfig struct {
	Host, Port, User, Password, Name string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}
