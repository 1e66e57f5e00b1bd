package repository

import (
	"context"
	"time"

	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// CreateIfAbsent вставляет запись, если пары (student, course) еще нет.
// created=false - запись уже была, e перечитан из БД.
func (r *EnrollmentRepository) CreateIfAbsent(ctx context.Context, e *domain.Enrollment) (bool, error) {
	result := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	existing, err := r.GetByStudentCourse(ctx, e.StudentID, e.CourseID)
	if err != nil {
		return false, err
	}
	*e = *existing
	return false, nil
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &e, nil
}

// GetByIDForUpdate блокирует строку записи до конца транзакции.
func (r *EnrollmentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&e, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &e, nil
}

func (r *EnrollmentRepository) GetByStudentCourse(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		First(&e).Error
	if err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &e, nil
}

// Exists - есть ли у студента запись на курс; отчисленные не считаются.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, courseID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Enrollment{}).
		Where("student_id = ? AND course_id = ? AND status <> ?", studentID, courseID, domain.EnrollmentDropped).
		Count(&count).Error
	return count > 0, err
}

// GetDetailed - запись вместе с курсом, прогрессом по урокам и сводкой.
func (r *EnrollmentRepository) GetDetailed(ctx context.Context, id uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Course").
		Preload("LessonProgress").
		Preload("CourseProgress").
		First(&e, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &e, nil
}

func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, status domain.EnrollmentStatus) ([]domain.Enrollment, error) {
	var list []domain.Enrollment
	query := r.db.WithContext(ctx).Preload("Course").Where("student_id = ?", studentID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("enrolled_at desc").Find(&list).Error
	return list, err
}

// IDsByCourse - id всех записей курса, кроме отчисленных.
func (r *EnrollmentRepository) IDsByCourse(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&domain.Enrollment{}).
		Where("course_id = ? AND status <> ?", courseID, domain.EnrollmentDropped).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.EnrollmentStatus, completedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": completedAt,
		}).Error
}

// CompleteIfActive переводит active -> completed; false, если статус был другим.
func (r *EnrollmentRepository) CompleteIfActive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Enrollment{}).
		Where("id = ? AND status = ?", id, domain.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":       domain.EnrollmentCompleted,
			"completed_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *EnrollmentRepository) SetProgress(ctx context.Context, id uuid.UUID, percent float64) error {
	return r.db.WithContext(ctx).Model(&domain.Enrollment{}).
		Where("id = ?", id).
		Update("progress_percentage", percent).Error
}

// LessonProgressFor возвращает строку прогресса (enrollment, lesson), создавая ее при отсутствии.
func (r *EnrollmentRepository) LessonProgressFor(ctx context.Context, enrollmentID, lessonID uuid.UUID) (*domain.LessonProgress, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.LessonProgress{
			EnrollmentID:  enrollmentID,
			LessonID:      lessonID,
			LastWatchedAt: time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}

	var p domain.LessonProgress
	err = r.db.WithContext(ctx).
		Where("enrollment_id = ? AND lesson_id = ?", enrollmentID, lessonID).
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "lesson progress")
	}
	return &p, nil
}

// SaveLessonProgress пишет наблюдение монотонно на стороне БД: время просмотра
// не уменьшается, завершение и completed_at не сбрасываются. p перечитывается.
func (r *EnrollmentRepository) SaveLessonProgress(ctx context.Context, p *domain.LessonProgress) error {
	err := r.db.WithContext(ctx).Model(&domain.LessonProgress{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"is_completed": gorm.Expr("is_completed OR ?", p.IsCompleted),
			"watched_seconds": gorm.Expr(
				"CASE WHEN watched_seconds > ? THEN watched_seconds ELSE ? END", p.WatchedSeconds, p.WatchedSeconds),
			"last_watched_at": p.LastWatchedAt,
			"completed_at":    gorm.Expr("COALESCE(completed_at, ?)", p.CompletedAt),
		}).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).First(p, "id = ?", p.ID).Error
}

// CountCompletedLessons - различные завершенные уроки записи, принадлежащие курсу.
func (r *EnrollmentRepository) CountCompletedLessons(ctx context.Context, enrollmentID, courseID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.LessonProgress{}).
		Joins("JOIN lessons ON lessons.id = lesson_progress.lesson_id").
		Joins("JOIN modules ON modules.id = lessons.module_id").
		Where("lesson_progress.enrollment_id = ? AND lesson_progress.is_completed = ? AND modules.course_id = ?",
			enrollmentID, true, courseID).
		Distinct("lesson_progress.lesson_id").
		Count(&n).Error
	return n, err
}

func (r *EnrollmentRepository) UpsertCourseProgress(ctx context.Context, p *domain.CourseProgress) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "enrollment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_lessons", "completed_lessons", "progress_percentage", "last_accessed_at", "updated_at",
		}),
	}).Create(p).Error
}

func (r *EnrollmentRepository) GetCourseProgress(ctx context.Context, enrollmentID uuid.UUID) (*domain.CourseProgress, error) {
	var p domain.CourseProgress
	if err := r.db.WithContext(ctx).First(&p, "enrollment_id = ?", enrollmentID).Error; err != nil {
		return nil, notFound(err, "course progress")
	}
	return &p, nil
}
