package handlers

import (
	"net/http"

	"coursemarket/internal/application/usecase"
	"coursemarket/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CourseHandler struct {
	catalog *usecase.CatalogUseCase
}

func NewCourseHandler(catalog *usecase.CatalogUseCase) *CourseHandler {
	return &CourseHandler{catalog: catalog}
}

// GET /api/v1/courses
func (h *CourseHandler) List(c *gin.Context) {
	var q usecase.CourseQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if raw := c.Query("instructor"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instructor"})
			return
		}
		q.InstructorID = &id
	}

	page, err := h.catalog.ListCourses(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /api/v1/courses/:slug
func (h *CourseHandler) GetOne(c *gin.Context) {
	course, err := h.catalog.GetCourse(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// GET /api/v1/categories
func (h *CourseHandler) Categories(c *gin.Context) {
	cats, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

// POST /api/v1/courses
func (h *CourseHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in usecase.CreateCourseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	course, err := h.catalog.CreateCourse(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

// PATCH /api/v1/courses/:slug/status
func (h *CourseHandler) UpdateStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Status domain.CourseStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	course, err := h.catalog.UpdateCourseStatus(c.Request.Context(), userID, c.Param("slug"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// DELETE /api/v1/courses/:slug
func (h *CourseHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteCourse(c.Request.Context(), userID, c.Param("slug")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/courses/:slug/modules
func (h *CourseHandler) AddModule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in usecase.AddModuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.catalog.AddModule(c.Request.Context(), userID, c.Param("slug"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// POST /api/v1/modules/:id/lessons
func (h *CourseHandler) AddLesson(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	moduleID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var in usecase.AddLessonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	l, err := h.catalog.AddLesson(c.Request.Context(), userID, moduleID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// PUT /api/v1/lessons/:id/content
func (h *CourseHandler) SetContent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lessonID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var in usecase.ContentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	content, err := h.catalog.SetLessonContent(c.Request.Context(), userID, lessonID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

// GET /api/v1/lessons/:id/content
func (h *CourseHandler) GetContent(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lessonID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	content, err := h.catalog.GetLessonContent(c.Request.Context(), userID, lessonID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

// POST /api/v1/categories
func (h *CourseHandler) CreateCategory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cat, err := h.catalog.CreateCategory(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}
