package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentCompleted, EnrollmentDropped:
		return true
	}
	return false
}

type Enrollment struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	StudentID          uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_student_course,priority:1"`
	CourseID           uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_student_course,priority:2;index"`
	Course             *Course          `gorm:"foreignKey:CourseID" json:",omitempty"`
	Status             EnrollmentStatus `gorm:"size:20;not null;default:'active'"`
	EnrolledAt         time.Time
	CompletedAt        *time.Time
	ProgressPercentage float64 `gorm:"type:decimal(5,2);not null;default:0"` // кеш, источник истины - LessonProgress

	LessonProgress []LessonProgress `gorm:"foreignKey:EnrollmentID;constraint:OnDelete:CASCADE;" json:",omitempty"`
	CourseProgress *CourseProgress  `gorm:"foreignKey:EnrollmentID;constraint:OnDelete:CASCADE;" json:",omitempty"`

	UpdatedAt time.Time
}

func (e *Enrollment) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EnrollmentActive
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}
	return nil
}

type LessonProgress struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	EnrollmentID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_progress_enrollment_lesson,priority:1"`
	LessonID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_progress_enrollment_lesson,priority:2;index"`
	IsCompleted    bool      `gorm:"not null;default:false"`
	WatchedSeconds int64     `gorm:"not null;default:0"`
	LastWatchedAt  time.Time
	CompletedAt    *time.Time
}

func (LessonProgress) TableName() string { return "lesson_progress" }

func (p *LessonProgress) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Apply вносит очередное наблюдение: время просмотра не уменьшается,
// completed_at ставится один раз, отметку о завершении снять нельзя.
func (p *LessonProgress) Apply(watchedSeconds int64, completed bool, now time.Time) {
	if watchedSeconds > p.WatchedSeconds {
		p.WatchedSeconds = watchedSeconds
	}
	if completed && !p.IsCompleted {
		p.IsCompleted = true
	}
	if p.IsCompleted && p.CompletedAt == nil {
		t := now
		p.CompletedAt = &t
	}
	p.LastWatchedAt = now
}

type CourseProgress struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	EnrollmentID       uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	TotalLessons       int64     `gorm:"not null;default:0"`
	CompletedLessons   int64     `gorm:"not null;default:0"`
	ProgressPercentage float64   `gorm:"type:decimal(5,2);not null;default:0"`
	LastAccessedAt     time.Time
	UpdatedAt          time.Time
}

func (CourseProgress) TableName() string { return "course_progress" }

func (p *CourseProgress) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ProgressPercentage = 100 * completed / total с округлением до сотых, 0 для пустого курса.
func ProgressPercentage(completed, total int64) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return math.Round(float64(completed)*10000/float64(total)) / 100
}
