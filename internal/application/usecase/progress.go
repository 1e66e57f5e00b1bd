package usecase

import (
	"context"
	"errors"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProgressAggregator - единственное место, где пересчитывается прогресс записи.
type ProgressAggregator struct {
	store *repository.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewProgressAggregator(store *repository.Store, log zerolog.Logger) *ProgressAggregator {
	return &ProgressAggregator{store: store, log: log, now: nowUTC}
}

type LessonProgressResult struct {
	Lesson *domain.LessonProgress
	Course *domain.CourseProgress
}

// RecordLessonWatched фиксирует просмотр урока и пересчитывает сводку в одной транзакции.
func (a *ProgressAggregator) RecordLessonWatched(ctx context.Context, studentID, enrollmentID, lessonID uuid.UUID, watchedSeconds int64, completed bool) (*LessonProgressResult, error) {
	if watchedSeconds < 0 {
		return nil, validationf("watched_seconds must not be negative")
	}

	var res LessonProgressResult
	err := a.store.Transaction(ctx, func(tx *repository.Store) error {
		e, err := lockOwned(ctx, tx, studentID, enrollmentID)
		if err != nil {
			return err
		}
		if e.Status == domain.EnrollmentDropped {
			return validationf("enrollment is dropped")
		}

		courseID, err := tx.Courses.LessonCourseID(ctx, lessonID)
		if err != nil {
			return err
		}
		if courseID != e.CourseID {
			return validationf("lesson %s is not part of the enrolled course", lessonID)
		}

		p, err := tx.Enrollments.LessonProgressFor(ctx, e.ID, lessonID)
		if err != nil {
			return err
		}
		p.Apply(watchedSeconds, completed, a.now())
		if err := tx.Enrollments.SaveLessonProgress(ctx, p); err != nil {
			return err
		}
		res.Lesson = p

		res.Course, err = a.Recompute(ctx, tx, e.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MarkLessonComplete находит запись студента на курс урока и отмечает урок пройденным.
func (a *ProgressAggregator) MarkLessonComplete(ctx context.Context, studentID, lessonID uuid.UUID) (*LessonProgressResult, error) {
	courseID, err := a.store.Courses.LessonCourseID(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	e, err := a.store.Enrollments.GetByStudentCourse(ctx, studentID, courseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, validationf("not enrolled in the course of lesson %s", lessonID)
	}
	if err != nil {
		return nil, err
	}
	return a.RecordLessonWatched(ctx, studentID, e.ID, lessonID, 0, true)
}

// Recompute пересчитывает процент по урокам курса и обновляет запись и сводку.
// 100% переводит активную запись в completed.
func (a *ProgressAggregator) Recompute(ctx context.Context, tx *repository.Store, enrollmentID uuid.UUID) (*domain.CourseProgress, error) {
	e, err := tx.Enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	total, err := tx.Courses.CountLessons(ctx, e.CourseID)
	if err != nil {
		return nil, err
	}
	done, err := tx.Enrollments.CountCompletedLessons(ctx, e.ID, e.CourseID)
	if err != nil {
		return nil, err
	}
	pct := domain.ProgressPercentage(done, total)
	now := a.now()

	if err := tx.Enrollments.SetProgress(ctx, e.ID, pct); err != nil {
		return nil, err
	}
	err = tx.Enrollments.UpsertCourseProgress(ctx, &domain.CourseProgress{
		EnrollmentID:       e.ID,
		TotalLessons:       total,
		CompletedLessons:   done,
		ProgressPercentage: pct,
		LastAccessedAt:     now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, err
	}

	if pct >= 100 && e.Status == domain.EnrollmentActive {
		ok, err := tx.Enrollments.CompleteIfActive(ctx, e.ID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			a.log.Info().Str("enrollment_id", e.ID.String()).Msg("course completed")
		}
	}

	return tx.Enrollments.GetCourseProgress(ctx, e.ID)
}

func (a *ProgressAggregator) GetCourseProgress(ctx context.Context, studentID, enrollmentID uuid.UUID) (*domain.CourseProgress, error) {
	e, err := owned(ctx, a.store, studentID, enrollmentID)
	if err != nil {
		return nil, err
	}
	p, err := a.store.Enrollments.GetCourseProgress(ctx, e.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}

	// записи без сводки (созданные до ее появления) пересчитываем
	err = a.store.Transaction(ctx, func(tx *repository.Store) error {
		p, err = a.Recompute(ctx, tx, e.ID)
		return err
	})
	return p, err
}
