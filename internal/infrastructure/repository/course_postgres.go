package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CourseFilter struct {
	Search       string
	CategorySlug string
	Level        string
	InstructorID *uuid.UUID
	Status       domain.CourseStatus
	Limit        int
	Offset       int
}

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) List(ctx context.Context, f CourseFilter) ([]domain.Course, int64, error) {
	var courses []domain.Course
	var total int64

	if err := r.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := r.filtered(ctx, f).Preload("Category").Order("courses.created_at desc")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}
	if err := query.Find(&courses).Error; err != nil {
		return nil, 0, err
	}
	return courses, total, nil
}

func (r *CourseRepository) filtered(ctx context.Context, f CourseFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&domain.Course{})
	if f.Status != "" {
		query = query.Where("courses.status = ?", f.Status)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		query = query.Where("LOWER(courses.title) LIKE ? OR LOWER(courses.description) LIKE ?", like, like)
	}
	if f.CategorySlug != "" {
		query = query.Joins("JOIN categories ON categories.id = courses.category_id").
			Where("categories.slug = ?", f.CategorySlug)
	}
	if f.Level != "" {
		query = query.Where("courses.level = ?", f.Level)
	}
	if f.InstructorID != nil {
		query = query.Where("courses.instructor_id = ?", *f.InstructorID)
	}
	return query
}

func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	var course domain.Course
	err := r.db.WithContext(ctx).First(&course, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "course")
	}
	return &course, nil
}

func (r *CourseRepository) GetBySlug(ctx context.Context, slug string) (*domain.Course, error) {
	var course domain.Course
	err := r.db.WithContext(ctx).Preload("Category").First(&course, "slug = ?", slug).Error
	if err != nil {
		return nil, notFound(err, "course")
	}
	return &course, nil
}

// GetCurriculum - курс с модулями и уроками по порядку
func (r *CourseRepository) GetCurriculum(ctx context.Context, slug string) (*domain.Course, error) {
	var course domain.Course
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("Modules", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order asc")
		}).
		Preload("Modules.Lessons", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order asc")
		}).
		First(&course, "slug = ?", slug).Error
	if err != nil {
		return nil, notFound(err, "course")
	}
	return &course, nil
}

// Create подбирает уникальный slug: title, title-1, title-2...
func (r *CourseRepository) Create(ctx context.Context, c *domain.Course) error {
	base := c.Slug
	if base == "" {
		base = domain.Slugify(c.Title)
	}
	if base == "" {
		return fmt.Errorf("course slug is empty: %w", domain.ErrValidation)
	}

	slug := base
	for i := 1; ; i++ {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.Course{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			break
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
	c.Slug = slug

	return r.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
}

func (r *CourseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CourseStatus) error {
	return r.db.WithContext(ctx).Model(&domain.Course{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *CourseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// модули, уроки и контент удаляются каскадом по внешним ключам
	return r.db.WithContext(ctx).Delete(&domain.Course{}, "id = ?", id).Error
}

func (r *CourseRepository) CreateModule(ctx context.Context, m *domain.Module) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("module order %d already used: %w", m.Order, domain.ErrConflict)
	}
	return err
}

func (r *CourseRepository) GetModule(ctx context.Context, id uuid.UUID) (*domain.Module, error) {
	var m domain.Module
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "module")
	}
	return &m, nil
}

func (r *CourseRepository) CreateLesson(ctx context.Context, l *domain.Lesson) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(l).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("lesson order %d already used: %w", l.Order, domain.ErrConflict)
	}
	return err
}

func (r *CourseRepository) GetLesson(ctx context.Context, id uuid.UUID) (*domain.Lesson, error) {
	var l domain.Lesson
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "lesson")
	}
	return &l, nil
}

// LessonCourseID - курс, которому принадлежит урок (через модуль).
func (r *CourseRepository) LessonCourseID(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	var m domain.Module
	err := r.db.WithContext(ctx).
		Joins("JOIN lessons ON lessons.module_id = modules.id").
		Where("lessons.id = ?", lessonID).
		First(&m).Error
	if err != nil {
		return uuid.Nil, notFound(err, "lesson")
	}
	return m.CourseID, nil
}

// CountLessons - число различных уроков курса по всем модулям.
func (r *CourseRepository) CountLessons(ctx context.Context, courseID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Lesson{}).
		Joins("JOIN modules ON modules.id = lessons.module_id").
		Where("modules.course_id = ?", courseID).
		Distinct("lessons.id").
		Count(&n).Error
	return n, err
}

func (r *CourseRepository) UpsertContent(ctx context.Context, c *domain.Content) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "lesson_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content_type", "video_url", "text_content", "file_url", "external_link", "updated_at",
		}),
	}).Create(c).Error
}

func (r *CourseRepository) GetContent(ctx context.Context, lessonID uuid.UUID) (*domain.Content, error) {
	var c domain.Content
	if err := r.db.WithContext(ctx).First(&c, "lesson_id = ?", lessonID).Error; err != nil {
		return nil, notFound(err, "content")
	}
	return &c, nil
}

func (r *CourseRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var cats []domain.Category
	err := r.db.WithContext(ctx).Order("name asc").Find(&cats).Error
	return cats, err
}

func (r *CourseRepository) CreateCategory(ctx context.Context, c *domain.Category) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("category %q: %w", c.Name, domain.ErrConflict)
	}
	return err
}

func (r *CourseRepository) GetCategoryBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	var c domain.Category
	if err := r.db.WithContext(ctx).First(&c, "slug = ?", slug).Error; err != nil {
		return nil, notFound(err, "category")
	}
	return &c, nil
}
