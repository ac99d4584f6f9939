package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Participant *handler.ParticipantHandler
	WS          *handler.WSHandler
	Grading     *handler.GradingHandler
	Question    *handler.QuestionHandler
	Schedule    *handler.ScheduleHandler
	Result      *handler.ResultHandler
	Analysis    *handler.AnalysisHandler
	Monitor     *handler.MonitorHandler
	Setting     *handler.SettingHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	loginLimiter *ratelimit.FixedWindow,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

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

	// Request ID and request-scoped logger on every route.
	router.Use(response.RequestIDMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", middleware.LoginRateLimit(loginLimiter), handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Participant Group (JWT + latest login) ─────────────────────
	participantAPI := router.Group("/api/v1/participant")
	participantAPI.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleParticipant),
		middleware.Compress(middleware.DefaultCompressMinLength),
	)
	{
		participantAPI.GET("/status", handlers.Participant.GetStatus)
		participantAPI.POST("/exam", handlers.Participant.StartExam)
		participantAPI.GET("/exam/state", handlers.Participant.GetExamState)
		participantAPI.PUT("/exam/progress", handlers.Participant.SaveProgress)
		participantAPI.POST("/exam/finish", handlers.Participant.FinishExam)
		participantAPI.POST("/violations", handlers.Participant.ReportViolation)
		participantAPI.GET("/results", handlers.Participant.ListMyResults)
		participantAPI.GET("/results/:id", handlers.Participant.GetMyResult)
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleParticipant),
	)
	{
		ws.GET("/participant/exam/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Grading Group ──────────────────────────────────────────────
	grading := router.Group("/api/v1/grading")
	grading.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleAdmin, model.RoleGrader),
		middleware.Compress(middleware.DefaultCompressMinLength),
	)
	{
		grading.GET("/essays", handlers.Grading.ListPending)
		grading.POST("/essays/:id", handlers.Grading.Grade)
	}

	// ─── 5. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.NoStore(),
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleAdmin),
		middleware.Compress(middleware.DefaultCompressMinLength),
	)
	{
		questions := adminAPI.Group("/questions")
		{
			questions.GET("", handlers.Question.ListQuestions)
			questions.POST("", handlers.Question.CreateQuestion)
			questions.GET("/:id", handlers.Question.GetQuestion)
			questions.PUT("/:id", handlers.Question.UpdateQuestion)
			questions.DELETE("/:id", handlers.Question.DeleteQuestion)
			questions.POST("/:id/approve", handlers.Question.ApproveQuestion)
		}

		schedules := adminAPI.Group("/schedules")
		{
			schedules.GET("", handlers.Schedule.ListSchedules)
			schedules.POST("", handlers.Schedule.CreateSchedule)
			schedules.GET("/:id", handlers.Schedule.GetSchedule)
			schedules.PUT("/:id", handlers.Schedule.UpdateSchedule)
			schedules.DELETE("/:id", handlers.Schedule.DeleteSchedule)
			schedules.PUT("/:id/questions", handlers.Schedule.LinkQuestions)
			schedules.PUT("/:id/release", handlers.Schedule.SetReleased)
			schedules.POST("/:id/analysis", handlers.Analysis.RunAnalysis)
			schedules.GET("/:id/analysis", handlers.Analysis.GetAnalysis)
		}

		results := adminAPI.Group("/results")
		{
			results.GET("", handlers.Result.ListResults)
			results.GET("/:id", handlers.Result.GetResult)
			results.POST("/:id/reset", handlers.Result.ResetAttempt)
			results.GET("/:id/forensics", handlers.Result.GetForensics)
		}

		adminAPI.GET("/analytics/score-distribution", handlers.Result.GetScoreDistribution)

		// Proctor monitor
		adminAPI.GET("/monitor", handlers.Monitor.GetBoard)
		adminAPI.GET("/monitor/stream", handlers.Monitor.Stream)
		adminAPI.POST("/sessions/force-finish", handlers.Monitor.ForceFinish)

		settingsGroup := adminAPI.Group("/settings")
		{
			settingsGroup.GET("", handlers.Setting.GetAllSettings)
			settingsGroup.PUT("", handlers.Setting.UpdateSettings)
		}
	}

	return router
}
