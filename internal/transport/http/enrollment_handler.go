package handlers

import (
	"net/http"

	"coursemarket/internal/application/usecase"
	"coursemarket/internal/domain"

	"github.com/gin-gonic/gin"
)

type EnrollmentHandler struct {
	enrollments *usecase.EnrollmentManager
	progress    *usecase.ProgressAggregator
}

func NewEnrollmentHandler(em *usecase.EnrollmentManager, pa *usecase.ProgressAggregator) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: em, progress: pa}
}

// POST /api/v1/courses/:slug/enroll
// Повторная запись возвращает существующую запись с 200.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	e, created, err := h.enrollments.EnrollFree(c.Request.Context(), userID, c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, e)
}

// GET /api/v1/enrollments?status=active
func (h *EnrollmentHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := h.enrollments.List(c.Request.Context(), userID, domain.EnrollmentStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/v1/enrollments/:id
func (h *EnrollmentHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	e, err := h.enrollments.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// POST /api/v1/enrollments/:id/complete
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	e, err := h.enrollments.Complete(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// POST /api/v1/enrollments/:id/drop
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	e, err := h.enrollments.Drop(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GET /api/v1/enrollments/:id/progress
func (h *EnrollmentHandler) Progress(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	cp, err := h.progress.GetCourseProgress(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

type lessonProgressReq struct {
	WatchedSeconds int64 `json:"watched_seconds"`
	Completed      bool  `json:"completed"`
}

// POST /api/v1/enrollments/:id/lessons/:lessonId/progress
func (h *EnrollmentHandler) RecordLesson(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	enrollmentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	lessonID, ok := uuidParam(c, "lessonId")
	if !ok {
		return
	}
	var req lessonProgressReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.progress.RecordLessonWatched(c.Request.Context(), userID, enrollmentID, lessonID, req.WatchedSeconds, req.Completed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lesson": res.Lesson, "course": res.Course})
}

// POST /api/v1/lessons/:id/complete
func (h *EnrollmentHandler) CompleteLesson(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lessonID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	res, err := h.progress.MarkLessonComplete(c.Request.Context(), userID, lessonID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lesson": res.Lesson, "course": res.Course})
}
