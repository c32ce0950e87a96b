package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/handler"
	"github.com/stemsi/certify-backend/internal/middleware"
	"github.com/stemsi/certify-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// Middlewares carries the shared middleware dependencies.
type Middlewares struct {
	Session       middleware.SessionResolver
	Cookie        middleware.SessionCookie
	CreateLimiter middleware.Limiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, mw *Middlewares, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		// The session cookie only travels on credentialed requests.
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.RequestLogger(log))

	// Health check.
	router.GET("/health", handlers.Health.Health)

	// ─── Attempts ──────────────────────────────────────────────────────
	attempts := router.Group("/api/v1/attempts")
	{
		create := []gin.HandlerFunc{handlers.Attempt.CreateAttempt}
		if mw.CreateLimiter != nil {
			create = append([]gin.HandlerFunc{middleware.RateLimit(mw.CreateLimiter, log)}, create...)
		}
		attempts.POST("", create...)
		attempts.POST("/grade", handlers.Attempt.GradeAttempt)
		attempts.GET("/:attempt_id/feedback", handlers.Attempt.GetFeedback)
	}

	// ─── Current attempt (session cookie) ──────────────────────────────
	current := attempts.Group("/current")
	current.Use(middleware.RequireAttemptSession(mw.Cookie, mw.Session))
	{
		current.GET("", handlers.Attempt.GetCurrentAttempt)
		current.PUT("/answers", handlers.Attempt.SubmitAnswers)
		current.GET("/stream", handlers.WS.AttemptStream)
	}

	return router
}
