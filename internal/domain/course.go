package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

func (s CourseStatus) Valid() bool {
	switch s {
	case CourseDraft, CoursePublished, CourseArchived:
		return true
	}
	return false
}

type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"uniqueIndex;size:100;not null"`
	Slug        string    `gorm:"uniqueIndex;size:100;not null"`
	Description string
	CreatedAt   time.Time
}

func (c *Category) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Slug == "" {
		c.Slug = Slugify(c.Name)
	}
	return nil
}

type Course struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	InstructorID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	CategoryID       *uuid.UUID `gorm:"type:uuid;index"`
	Category         *Category  `gorm:"foreignKey:CategoryID" json:",omitempty"`
	Title            string     `gorm:"index;size:200;not null"`
	Slug             string     `gorm:"uniqueIndex;size:200;not null"`
	Description      string
	ShortDescription string       `gorm:"size:300"`
	PriceCents       int64        `gorm:"not null;default:0"` // в минимальных единицах валюты
	Currency         string       `gorm:"size:3;not null;default:'usd'"`
	Level            string       `gorm:"size:20;not null;default:'beginner'"`
	Status           CourseStatus `gorm:"size:20;index;not null;default:'draft'"`
	Featured         bool

	// Модули курса по порядку
	Modules []Module `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE;" json:",omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Course) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.Status == "" {
		c.Status = CourseDraft
	}
	return nil
}

func (c *Course) IsFree() bool { return c.PriceCents <= 0 }

type Module struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CourseID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_module_course_order,priority:1"`
	Title       string    `gorm:"size:200;not null"`
	Description string
	Order       int `gorm:"column:sort_order;not null;uniqueIndex:idx_module_course_order,priority:2"`

	Lessons []Lesson `gorm:"foreignKey:ModuleID;constraint:OnDelete:CASCADE;" json:",omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Module) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type Lesson struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModuleID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_lesson_module_order,priority:1"`
	Title           string    `gorm:"size:200;not null"`
	Description     string
	LessonType      string `gorm:"size:20;not null;default:'video'"`
	Order           int    `gorm:"column:sort_order;not null;uniqueIndex:idx_lesson_module_order,priority:2"`
	DurationMinutes int
	IsFreePreview   bool

	Content *Content `gorm:"foreignKey:LessonID;constraint:OnDelete:CASCADE;" json:",omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Lesson) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.LessonType == "" {
		l.LessonType = "video"
	}
	return nil
}

type Content struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	LessonID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	ContentType  string    `gorm:"size:20;not null;default:'video'"`
	VideoURL     string
	TextContent  string
	FileURL      string
	ExternalLink string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Content) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Slugify: "Go Basics 101" -> "go-basics-101"
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
