package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/handler"
	"github.com/DeepStacker/dsba-lms-sub001/internal/middleware"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/DeepStacker/dsba-lms-sub001/internal/response"
	"github.com/DeepStacker/dsba-lms-sub001/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for join requests (30 per minute per IP): joining is the
	// only unauthenticated-adjacent write a misbehaving client can spam.
	joinLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/exams", middleware.CacheControl(30), handlers.Attempt.ListExams)
		studentAPI.POST("/exams/:exam_id/join", joinLimiter.Middleware(), handlers.Attempt.JoinExam)
		studentAPI.GET("/attempts/:attempt_id/state", handlers.Attempt.GetState)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		studentAPI.POST("/attempts/:attempt_id/retry-submit", handlers.Attempt.RetrySubmit)
		studentAPI.POST("/attempts/:attempt_id/signals", handlers.Attempt.Signal)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/exams/:id/attempts",
			middleware.RequirePermission(string(model.PermissionAttemptsRead)),
			handlers.Monitor.ListAttempts,
		)
		adminAPI.GET("/attempts/:id",
			middleware.RequirePermission(string(model.PermissionAttemptsRead)),
			handlers.Monitor.GetAttemptDetail,
		)
		adminAPI.GET("/exams/:id/monitor",
			middleware.RequirePermission(string(model.PermissionExamsMonitor)),
			handlers.Monitor.MonitorExamSSE,
		)
		adminAPI.GET("/system/metrics",
			middleware.RequirePermission(string(model.PermissionExamsMonitor)),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}
