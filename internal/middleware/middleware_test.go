package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/certify-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct {
	binding *service.Binding
	err     error
}

func (r stubResolver) Resolve(context.Context, service.Credential) (*service.Binding, error) {
	return r.binding, r.err
}

type stubLimiter struct {
	allow bool
	err   error
}

func (l stubLimiter) Allow(context.Context, string) (bool, error) { return l.allow, l.err }

var testCookie = SessionCookie{Name: "exam_attempt", Path: "/api/v1/attempts"}

func serve(t *testing.T, handlers []gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.GET("/api/v1/attempts/current", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAttemptSession(t *testing.T) {
	attemptID := uuid.New()
	ok := func(c *gin.Context) {
		b := GetBinding(c)
		require.NotNil(t, b)
		c.String(http.StatusOK, b.AttemptID.String())
	}

	t.Run("missing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/current", nil)
		w := serve(t, []gin.HandlerFunc{RequireAttemptSession(testCookie, stubResolver{}), ok}, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "ATTEMPT_SESSION_REQUIRED")
	})

	t.Run("revoked credential clears cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/current", nil)
		req.AddCookie(&http.Cookie{Name: "exam_attempt", Value: "stale"})
		w := serve(t, []gin.HandlerFunc{RequireAttemptSession(testCookie, stubResolver{err: service.ErrCredentialInvalid}), ok}, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		require.Len(t, w.Result().Cookies(), 1)
		assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
	})

	t.Run("store failure", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/current", nil)
		req.AddCookie(&http.Cookie{Name: "exam_attempt", Value: "x"})
		w := serve(t, []gin.HandlerFunc{RequireAttemptSession(testCookie, stubResolver{err: errors.New("redis down")}), ok}, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/current", nil)
		req.AddCookie(&http.Cookie{Name: "exam_attempt", Value: "good"})
		res := stubResolver{binding: &service.Binding{Credential: "good", AttemptID: attemptID}}
		w := serve(t, []gin.HandlerFunc{RequireAttemptSession(testCookie, res), ok}, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, attemptID.String(), w.Body.String())
	})
}

func TestSessionCookie_Set(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	sc := SessionCookie{Name: "exam_attempt", Path: "/api/v1/attempts", Secure: true}
	sc.Set(c, &service.Binding{Credential: "token", ExpiresAt: time.Now().Add(time.Hour)})

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	got := cookies[0]
	assert.Equal(t, "token", got.Value)
	assert.Equal(t, "/api/v1/attempts", got.Path)
	assert.True(t, got.HttpOnly)
	assert.True(t, got.Secure)
	assert.Equal(t, http.SameSiteLaxMode, got.SameSite)
	assert.InDelta(t, 3600, got.MaxAge, 2)
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 2, time.Hour)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	// Buckets are per key.
	ok, _ = rl.Allow(ctx, "10.0.0.2")
	assert.True(t, ok)
}

func TestRateLimit_Middleware(t *testing.T) {
	req := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/v1/attempts/current", nil) }
	next := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	w := serve(t, []gin.HandlerFunc{RateLimit(stubLimiter{allow: false}, zerolog.Nop()), next}, req())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	w = serve(t, []gin.HandlerFunc{RateLimit(stubLimiter{allow: true}, zerolog.Nop()), next}, req())
	assert.Equal(t, http.StatusNoContent, w.Code)

	// A failing limiter lets traffic through.
	w = serve(t, []gin.HandlerFunc{RateLimit(stubLimiter{err: errors.New("redis down")}, zerolog.Nop()), next}, req())
	assert.Equal(t, http.StatusNoContent, w.Code)
}
