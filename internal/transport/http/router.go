package handlers

import (
	"context"
	"net/http"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthCheck проверяет зависимость (БД, redis) для /healthz.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Auth       *AuthHandler
	Course     *CourseHandler
	Enrollment *EnrollmentHandler
	Payment    *PaymentHandler
	User       *UserHandler
	Health     map[string]HealthCheck
}

func NewRouter(h Handlers, tokens middleware.TokenValidator, limiter *middleware.RateLimiter, origins []string, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	config := cors.DefaultConfig()
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}
	r.Use(cors.New(config))

	limit := func(key string, n int, window time.Duration) gin.HandlerFunc {
		if limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return limiter.Limit(key, n, window)
	}
	auth := middleware.AuthMiddleware(tokens)
	author := middleware.RequireRole(domain.RoleInstructor, domain.RoleAdmin)
	admin := middleware.RequireRole(domain.RoleAdmin)

	r.GET("/healthz", healthz(h.Health))

	api := r.Group("/api/v1")
	{
		a := api.Group("/auth")
		{
			a.POST("/register", limit("register", 10, time.Hour), h.Auth.Register)
			a.POST("/login", limit("login", 5, time.Minute), h.Auth.Login)
			a.POST("/refresh", h.Auth.Refresh)
			a.POST("/logout", h.Auth.Logout)
		}

		api.GET("/courses", h.Course.List)
		api.GET("/courses/:slug", h.Course.GetOne)
		api.GET("/categories", h.Course.Categories)
		api.POST("/payments/webhook", h.Payment.Webhook)

		private := api.Group("")
		private.Use(auth)
		{
			private.POST("/courses/:slug/enroll", h.Enrollment.Enroll)
			private.POST("/courses/:slug/checkout", limit("checkout", 20, time.Minute), h.Payment.Checkout)
			private.POST("/courses/:slug/checkout/cancel", h.Payment.Cancel)

			private.GET("/payments/success", h.Payment.Success)
			private.GET("/payments/history", h.Payment.History)

			private.GET("/enrollments", h.Enrollment.List)
			private.GET("/enrollments/:id", h.Enrollment.Get)
			private.GET("/enrollments/:id/progress", h.Enrollment.Progress)
			private.POST("/enrollments/:id/complete", h.Enrollment.Complete)
			private.POST("/enrollments/:id/drop", h.Enrollment.Drop)
			private.POST("/enrollments/:id/lessons/:lessonId/progress", h.Enrollment.RecordLesson)

			private.POST("/lessons/:id/complete", h.Enrollment.CompleteLesson)
			private.GET("/lessons/:id/content", h.Course.GetContent)

			private.GET("/user/profile", h.User.GetProfile)
			private.PUT("/user/profile", h.User.UpdateProfile)

			private.POST("/courses", author, h.Course.Create)
			private.PATCH("/courses/:slug/status", author, h.Course.UpdateStatus)
			private.DELETE("/courses/:slug", author, h.Course.Delete)
			private.POST("/courses/:slug/modules", author, h.Course.AddModule)
			private.POST("/modules/:id/lessons", author, h.Course.AddLesson)
			private.PUT("/lessons/:id/content", author, h.Course.SetContent)

			private.POST("/categories", admin, h.Course.CreateCategory)
			private.PUT("/admin/users/:id/role", admin, h.User.ChangeRole)
		}
	}

	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		c.JSON(code, gin.H{"status": http.StatusText(code), "checks": status})
	}
}
