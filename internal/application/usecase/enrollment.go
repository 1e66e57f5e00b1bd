package usecase

import (
	"context"
	"fmt"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EnrollmentManager struct {
	store *repository.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewEnrollmentManager(store *repository.Store, log zerolog.Logger) *EnrollmentManager {
	return &EnrollmentManager{store: store, log: log, now: nowUTC}
}

// Enroll записывает студента на опубликованный курс. Повторный вызов возвращает
// существующую запись без изменений и created=false.
func (m *EnrollmentManager) Enroll(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, bool, error) {
	var (
		enrollment *domain.Enrollment
		created    bool
	)
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := m.checkEnrollable(ctx, tx, studentID, courseID); err != nil {
			return err
		}
		var err error
		enrollment, created, err = m.EnrollWithin(ctx, tx, studentID, courseID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		m.log.Info().Str("student_id", studentID.String()).Str("course_id", courseID.String()).Msg("student enrolled")
	}
	return enrollment, created, nil
}

// EnrollWithin создает запись и сводку прогресса в транзакции вызывающего.
// Права вызывающий проверяет сам: оплаченный платеж выдает доступ без повторных проверок.
// Отчисленная запись возвращается в active с сохраненным прогрессом, created=true.
func (m *EnrollmentManager) EnrollWithin(ctx context.Context, tx *repository.Store, studentID, courseID uuid.UUID) (*domain.Enrollment, bool, error) {
	now := m.now()
	e := &domain.Enrollment{
		StudentID:  studentID,
		CourseID:   courseID,
		Status:     domain.EnrollmentActive,
		EnrolledAt: now,
	}
	created, err := tx.Enrollments.CreateIfAbsent(ctx, e)
	if err != nil {
		return nil, false, err
	}
	if !created {
		if e.Status != domain.EnrollmentDropped {
			return e, false, nil
		}
		if err := tx.Enrollments.UpdateStatus(ctx, e.ID, domain.EnrollmentActive, nil); err != nil {
			return nil, false, err
		}
		e.Status = domain.EnrollmentActive
		e.CompletedAt = nil
		return e, true, nil
	}

	total, err := tx.Courses.CountLessons(ctx, courseID)
	if err != nil {
		return nil, false, err
	}
	err = tx.Enrollments.UpsertCourseProgress(ctx, &domain.CourseProgress{
		EnrollmentID:   e.ID,
		TotalLessons:   total,
		LastAccessedAt: now,
	})
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (m *EnrollmentManager) checkEnrollable(ctx context.Context, tx *repository.Store, studentID, courseID uuid.UUID) error {
	user, err := tx.Users.GetByID(ctx, studentID)
	if err != nil {
		return err
	}
	if user.Role != domain.RoleStudent {
		return permissionf("only students can enroll")
	}
	course, err := tx.Courses.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if course.Status != domain.CoursePublished {
		return errCourseNotFound
	}
	return nil
}

// EnrollFree - запись через HTTP: платные курсы идут через checkout.
func (m *EnrollmentManager) EnrollFree(ctx context.Context, studentID uuid.UUID, slug string) (*domain.Enrollment, bool, error) {
	course, err := m.store.Courses.GetBySlug(ctx, slug)
	if err != nil {
		return nil, false, err
	}
	if course.Status != domain.CoursePublished {
		return nil, false, errCourseNotFound
	}
	if !course.IsFree() {
		ok, err := m.paidAccess(ctx, studentID, course.ID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, domain.ErrPaymentRequired
		}
	}
	return m.Enroll(ctx, studentID, course.ID)
}

func (m *EnrollmentManager) List(ctx context.Context, studentID uuid.UUID, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	if status != "" && !status.Valid() {
		return nil, validationf("unknown enrollment status %q", status)
	}
	return m.store.Enrollments.ListByStudent(ctx, studentID, status)
}

func (m *EnrollmentManager) Get(ctx context.Context, studentID, enrollmentID uuid.UUID) (*domain.Enrollment, error) {
	e, err := m.store.Enrollments.GetDetailed(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.StudentID != studentID {
		return nil, permissionf("enrollment belongs to another student")
	}
	return e, nil
}

// Complete - ручное завершение курса студентом. Уже завершенная запись не меняется.
func (m *EnrollmentManager) Complete(ctx context.Context, studentID, enrollmentID uuid.UUID) (*domain.Enrollment, error) {
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		e, err := lockOwned(ctx, tx, studentID, enrollmentID)
		if err != nil {
			return err
		}
		switch e.Status {
		case domain.EnrollmentCompleted:
			return nil
		case domain.EnrollmentDropped:
			return validationf("enrollment is dropped")
		}
		_, err = tx.Enrollments.CompleteIfActive(ctx, e.ID, m.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.store.Enrollments.GetByID(ctx, enrollmentID)
}

func (m *EnrollmentManager) Drop(ctx context.Context, studentID, enrollmentID uuid.UUID) (*domain.Enrollment, error) {
	err := m.store.Transaction(ctx, func(tx *repository.Store) error {
		e, err := lockOwned(ctx, tx, studentID, enrollmentID)
		if err != nil {
			return err
		}
		if e.Status == domain.EnrollmentDropped {
			return nil
		}
		return tx.Enrollments.UpdateStatus(ctx, e.ID, domain.EnrollmentDropped, e.CompletedAt)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("enrollment_id", enrollmentID.String()).Msg("enrollment dropped")
	return m.store.Enrollments.GetByID(ctx, enrollmentID)
}

// paidAccess: действующая запись или неотозванная оплата курса.
func (m *EnrollmentManager) paidAccess(ctx context.Context, studentID, courseID uuid.UUID) (bool, error) {
	exists, err := m.store.Enrollments.Exists(ctx, studentID, courseID)
	if err != nil || exists {
		return exists, err
	}
	return m.store.Payments.HasCompleted(ctx, studentID, courseID)
}

var errCourseNotFound = fmt.Errorf("course: %w", domain.ErrNotFound)

func owned(ctx context.Context, tx *repository.Store, studentID, enrollmentID uuid.UUID) (*domain.Enrollment, error) {
	e, err := tx.Enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return ownedBy(e, studentID)
}

// lockOwned - как owned, но держит строку записи до конца транзакции tx.
func lockOwned(ctx context.Context, tx *repository.Store, studentID, enrollmentID uuid.UUID) (*domain.Enrollment, error) {
	e, err := tx.Enrollments.GetByIDForUpdate(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return ownedBy(e, studentID)
}

func ownedBy(e *domain.Enrollment, studentID uuid.UUID) (*domain.Enrollment, error) {
	if e.StudentID != studentID {
		return nil, permissionf("enrollment belongs to another student")
	}
	return e, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
