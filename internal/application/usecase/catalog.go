package usecase

import (
	"context"
	"errors"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/cache"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type CatalogUseCase struct {
	store    *repository.Store
	cache    *cache.CatalogCache
	progress *ProgressAggregator
	log      zerolog.Logger
}

// NewCatalogUseCase: cache может быть nil, тогда все читается из БД.
func NewCatalogUseCase(store *repository.Store, cc *cache.CatalogCache, pa *ProgressAggregator, log zerolog.Logger) *CatalogUseCase {
	return &CatalogUseCase{store: store, cache: cc, progress: pa, log: log}
}

type CourseQuery struct {
	Search       string     `form:"search" validate:"max=100"`
	Category     string     `form:"category" validate:"max=100"`
	Level        string     `form:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	InstructorID *uuid.UUID `form:"-"`
	Limit        int        `form:"limit" validate:"min=0,max=100"`
	Offset       int        `form:"offset" validate:"min=0"`
}

type CoursePage struct {
	Courses []domain.Course `json:"courses"`
	Total   int64           `json:"total"`
}

func (uc *CatalogUseCase) ListCourses(ctx context.Context, q CourseQuery) (*CoursePage, error) {
	if err := validateInput(q); err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	instructor := ""
	if q.InstructorID != nil {
		instructor = q.InstructorID.String()
	}
	key := cache.ListKey(q.Search, q.Category, q.Level, instructor, q.Limit, q.Offset)

	var page CoursePage
	if uc.cache != nil && uc.cache.Get(ctx, key, &page) {
		return &page, nil
	}

	courses, total, err := uc.store.Courses.List(ctx, repository.CourseFilter{
		Search:       q.Search,
		CategorySlug: q.Category,
		Level:        q.Level,
		InstructorID: q.InstructorID,
		Status:       domain.CoursePublished,
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
	if err != nil {
		return nil, err
	}
	page = CoursePage{Courses: courses, Total: total}

	if uc.cache != nil {
		if err := uc.cache.SetList(ctx, key, page); err != nil {
			uc.log.Warn().Err(err).Msg("catalog cache write failed")
		}
	}
	return &page, nil
}

// GetCourse - опубликованный курс с модулями и уроками.
func (uc *CatalogUseCase) GetCourse(ctx context.Context, slug string) (*domain.Course, error) {
	var course domain.Course
	if uc.cache != nil && uc.cache.Get(ctx, cache.DetailKey(slug), &course) {
		return &course, nil
	}

	c, err := uc.store.Courses.GetCurriculum(ctx, slug)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CoursePublished {
		return nil, errCourseNotFound
	}

	if uc.cache != nil {
		if err := uc.cache.SetDetail(ctx, slug, c); err != nil {
			uc.log.Warn().Err(err).Msg("catalog cache write failed")
		}
	}
	return c, nil
}

func (uc *CatalogUseCase) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return uc.store.Courses.ListCategories(ctx)
}

// GetLessonContent отдает материал урока: бесплатное превью, записанному
// студенту (кроме отчисленных), автору курса или админу.
func (uc *CatalogUseCase) GetLessonContent(ctx context.Context, userID, lessonID uuid.UUID) (*domain.Content, error) {
	lesson, err := uc.store.Courses.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if !lesson.IsFreePreview {
		if err := uc.canView(ctx, userID, lessonID); err != nil {
			return nil, err
		}
	}
	return uc.store.Courses.GetContent(ctx, lessonID)
}

func (uc *CatalogUseCase) canView(ctx context.Context, userID, lessonID uuid.UUID) error {
	courseID, err := uc.store.Courses.LessonCourseID(ctx, lessonID)
	if err != nil {
		return err
	}
	course, err := uc.store.Courses.GetByID(ctx, courseID)
	if err != nil {
		return err
	}
	if course.InstructorID == userID {
		return nil
	}
	user, err := uc.store.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == domain.RoleAdmin {
		return nil
	}
	e, err := uc.store.Enrollments.GetByStudentCourse(ctx, userID, courseID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && e.Status == domain.EnrollmentDropped) {
		return permissionf("enroll to access this lesson")
	}
	return err
}

type CreateCourseInput struct {
	Title            string `json:"title" validate:"required,max=200"`
	Description      string `json:"description"`
	ShortDescription string `json:"short_description" validate:"max=300"`
	CategorySlug     string `json:"category"`
	PriceCents       int64  `json:"price_cents" validate:"min=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
	Level            string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
}

func (uc *CatalogUseCase) CreateCourse(ctx context.Context, actorID uuid.UUID, in CreateCourseInput) (*domain.Course, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	actor, err := uc.store.Users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleInstructor && actor.Role != domain.RoleAdmin {
		return nil, permissionf("only instructors can create courses")
	}

	c := &domain.Course{
		InstructorID:     actorID,
		Title:            in.Title,
		Description:      in.Description,
		ShortDescription: in.ShortDescription,
		PriceCents:       in.PriceCents,
		Currency:         in.Currency,
		Level:            in.Level,
		Status:           domain.CourseDraft,
	}
	if c.Level == "" {
		c.Level = "beginner"
	}
	if in.CategorySlug != "" {
		cat, err := uc.store.Courses.GetCategoryBySlug(ctx, in.CategorySlug)
		if err != nil {
			return nil, err
		}
		c.CategoryID = &cat.ID
	}
	if err := uc.store.Courses.Create(ctx, c); err != nil {
		return nil, err
	}

	uc.invalidate(ctx, "")
	uc.log.Info().Str("course_id", c.ID.String()).Str("slug", c.Slug).Msg("course created")
	return c, nil
}

func (uc *CatalogUseCase) UpdateCourseStatus(ctx context.Context, actorID uuid.UUID, slug string, status domain.CourseStatus) (*domain.Course, error) {
	if !status.Valid() {
		return nil, validationf("unknown course status %q", status)
	}
	c, err := uc.ownedCourse(ctx, actorID, slug)
	if err != nil {
		return nil, err
	}
	if err := uc.store.Courses.UpdateStatus(ctx, c.ID, status); err != nil {
		return nil, err
	}
	c.Status = status
	uc.invalidate(ctx, slug)
	return c, nil
}

func (uc *CatalogUseCase) DeleteCourse(ctx context.Context, actorID uuid.UUID, slug string) error {
	c, err := uc.ownedCourse(ctx, actorID, slug)
	if err != nil {
		return err
	}
	if err := uc.store.Courses.Delete(ctx, c.ID); err != nil {
		return err
	}
	uc.invalidate(ctx, slug)
	return nil
}

type AddModuleInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
	Order       int    `json:"order" validate:"min=1"`
}

func (uc *CatalogUseCase) AddModule(ctx context.Context, actorID uuid.UUID, slug string, in AddModuleInput) (*domain.Module, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	c, err := uc.ownedCourse(ctx, actorID, slug)
	if err != nil {
		return nil, err
	}
	m := &domain.Module{CourseID: c.ID, Title: in.Title, Description: in.Description, Order: in.Order}
	if err := uc.store.Courses.CreateModule(ctx, m); err != nil {
		return nil, err
	}
	uc.invalidate(ctx, slug)
	return m, nil
}

type AddLessonInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description"`
	LessonType      string `json:"lesson_type" validate:"omitempty,oneof=video text quiz assignment"`
	Order           int    `json:"order" validate:"min=1"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0"`
	IsFreePreview   bool   `json:"is_free_preview"`
}

func (uc *CatalogUseCase) AddLesson(ctx context.Context, actorID, moduleID uuid.UUID, in AddLessonInput) (*domain.Lesson, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	m, err := uc.store.Courses.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	c, err := uc.store.Courses.GetByID(ctx, m.CourseID)
	if err != nil {
		return nil, err
	}
	if err := uc.authorizeOwner(ctx, actorID, c); err != nil {
		return nil, err
	}

	l := &domain.Lesson{
		ModuleID:        m.ID,
		Title:           in.Title,
		Description:     in.Description,
		LessonType:      in.LessonType,
		Order:           in.Order,
		DurationMinutes: in.DurationMinutes,
		IsFreePreview:   in.IsFreePreview,
	}
	err = uc.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Courses.CreateLesson(ctx, l); err != nil {
			return err
		}
		return uc.refreshTotals(ctx, tx, c.ID)
	})
	if err != nil {
		return nil, err
	}
	uc.invalidate(ctx, c.Slug)
	return l, nil
}

// refreshTotals обновляет сводки прогресса записей курса после добавления урока.
func (uc *CatalogUseCase) refreshTotals(ctx context.Context, tx *repository.Store, courseID uuid.UUID) error {
	ids, err := tx.Enrollments.IDsByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := uc.progress.Recompute(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

type ContentInput struct {
	ContentType  string `json:"content_type" validate:"required,oneof=video text file link"`
	VideoURL     string `json:"video_url" validate:"omitempty,url"`
	TextContent  string `json:"text_content"`
	FileURL      string `json:"file_url" validate:"omitempty,url"`
	ExternalLink string `json:"external_link" validate:"omitempty,url"`
}

func (uc *CatalogUseCase) SetLessonContent(ctx context.Context, actorID, lessonID uuid.UUID, in ContentInput) (*domain.Content, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	courseID, err := uc.store.Courses.LessonCourseID(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	c, err := uc.store.Courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := uc.authorizeOwner(ctx, actorID, c); err != nil {
		return nil, err
	}

	content := &domain.Content{
		LessonID:     lessonID,
		ContentType:  in.ContentType,
		VideoURL:     in.VideoURL,
		TextContent:  in.TextContent,
		FileURL:      in.FileURL,
		ExternalLink: in.ExternalLink,
	}
	if err := uc.store.Courses.UpsertContent(ctx, content); err != nil {
		return nil, err
	}
	return uc.store.Courses.GetContent(ctx, lessonID)
}

func (uc *CatalogUseCase) CreateCategory(ctx context.Context, actorID uuid.UUID, name, description string) (*domain.Category, error) {
	actor, err := uc.store.Users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, permissionf("only admins can create categories")
	}
	if len(name) == 0 || len(name) > 100 {
		return nil, validationf("category name must be 1..100 characters")
	}
	cat := &domain.Category{Name: name, Description: description}
	if err := uc.store.Courses.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (uc *CatalogUseCase) ownedCourse(ctx context.Context, actorID uuid.UUID, slug string) (*domain.Course, error) {
	c, err := uc.store.Courses.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := uc.authorizeOwner(ctx, actorID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (uc *CatalogUseCase) authorizeOwner(ctx context.Context, actorID uuid.UUID, c *domain.Course) error {
	if c.InstructorID == actorID {
		return nil
	}
	actor, err := uc.store.Users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	return permissionf("course belongs to another instructor")
}

func (uc *CatalogUseCase) invalidate(ctx context.Context, slug string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Invalidate(ctx, slug); err != nil {
		uc.log.Warn().Err(err).Msg("catalog cache invalidation failed")
	}
}
