package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFunc func(string) (*security.Claims, error)

func (f validatorFunc) ValidateAccess(token string) (*security.Claims, error) { return f(token) }

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tm := security.NewTokenManager("access-secret", "refresh-secret")
	userID := uuid.New()
	access, refresh, err := tm.Generate(userID.String(), domain.RoleInstructor)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthMiddleware(validatorFunc(tm.ValidateAccessToken)), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": id.String(), "role": Role(c)})
	})
	r.GET("/instructor", AuthMiddleware(validatorFunc(tm.ValidateAccessToken)), RequireRole(domain.RoleInstructor, domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/admin", AuthMiddleware(validatorFunc(tm.ValidateAccessToken)), RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	withToken := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return do(r, req)
	}

	w := withToken("/me", "Bearer "+access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), `"role":"instructor"`)

	assert.Equal(t, http.StatusUnauthorized, withToken("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, withToken("/me", "Token "+access).Code)
	assert.Equal(t, http.StatusUnauthorized, withToken("/me", "Bearer garbage").Code)
	// refresh-токен не годится как access
	assert.Equal(t, http.StatusUnauthorized, withToken("/me", "Bearer "+refresh).Code)

	assert.Equal(t, http.StatusNoContent, withToken("/instructor", "Bearer "+access).Code)
	assert.Equal(t, http.StatusForbidden, withToken("/admin", "Bearer "+access).Code)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRateLimiter(rdb, zerolog.Nop())
	r := gin.New()
	r.POST("/login", rl.Limit("login", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	login := func() *httptest.ResponseRecorder {
		return do(r, httptest.NewRequest(http.MethodPost, "/login", nil))
	}

	assert.Equal(t, http.StatusOK, login().Code)
	assert.Equal(t, http.StatusOK, login().Code)
	w := login()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, login().Code)
}

func TestRateLimiter_RedisDownPassesThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	r := gin.New()
	r.POST("/login", NewRateLimiter(rdb, zerolog.Nop()).Limit("login", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodPost, "/login", nil)).Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	do(r, httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"path":"/missing"`)
	assert.Contains(t, out, `"status":404`)
}
