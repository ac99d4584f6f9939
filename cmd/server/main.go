package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/progress"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/scheduler"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Float64("passing_score", cfg.Policy.PassingScore).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	scheduleRepo := repository.NewScheduleRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	itemRepo := repository.NewItemAnalysisRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)
	settingRepo := repository.NewSettingRepository(pool)

	// ─── Progress Store (Redis first, Postgres fallback) ───────────────
	progressStore := progress.NewFallbackStore(
		progress.NewRedisStore(rdb, cfg.ProgressTimeout),
		progress.NewPostgresStore(pool),
		progress.NewQueueCounterSink(rdb),
		cfg.ProgressTTL,
		log,
	)

	// ─── Initialize Services ──────────────────────────────────────────
	audit := service.NewQueueAuditSink(rdb, log)
	events := service.NewQueueEventSink(rdb, log)
	publisher := service.NewRedisMonitorPublisher(rdb, log)
	activeCache := service.NewActiveSessionCache(rdb, cfg.ProgressTimeout)

	authService := service.NewAuthService(cfg, userRepo, rdb)
	settingService := service.NewSettingService(settingRepo, audit, cfg.Policy.PassingScore, log)
	sessionService := service.NewSessionService(
		scheduleRepo, questionRepo, sessionRepo, progressStore, activeCache,
		events, audit, publisher, service.NewShuffler(), cfg.ProgressTTL, log,
	)
	finalizeService := service.NewFinalizeService(
		sessionRepo, resultRepo, scheduleRepo, userRepo, progressStore, activeCache,
		settingService, events, audit, publisher, log,
	)
	violationLimiter := ratelimit.NewFixedWindow(rdb, cfg.ViolationRatePerMin, time.Minute)
	violationService := service.NewViolationService(sessionService, violationLimiter, events, publisher, log)
	statusService := service.NewStatusService(sessionRepo, resultRepo, scheduleRepo)
	gradingService := service.NewGradingService(resultRepo, settingService, audit, log)
	resultService := service.NewResultService(resultRepo, sessionRepo, eventRepo, audit, log)
	analysisService := service.NewAnalysisService(scheduleRepo, resultRepo, itemRepo, questionRepo, audit, log)
	monitorService := service.NewMonitorService(sessionRepo, monitorRepo, cfg.Policy)
	questionService := service.NewQuestionService(questionRepo, log)
	scheduleService := service.NewScheduleService(scheduleRepo, audit, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService),
		Participant: handler.NewParticipantHandler(statusService, sessionService, finalizeService, violationService, resultService),
		WS:          handler.NewWSHandler(sessionService, finalizeService, violationService, log, cfg.AllowedOrigins),
		Grading:     handler.NewGradingHandler(gradingService),
		Question:    handler.NewQuestionHandler(questionService),
		Schedule:    handler.NewScheduleHandler(scheduleService),
		Result:      handler.NewResultHandler(resultService),
		Analysis:    handler.NewAnalysisHandler(analysisService),
		Monitor:     handler.NewMonitorHandler(monitorService, finalizeService, publisher, cfg.MonitorRefresh, log),
		Setting:     handler.NewSettingHandler(settingService),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	for _, start := range []func(context.Context){
		worker.NewProgressWorker(pool, rdb, log).Start,
		worker.NewEventWorker(pool, rdb, log).Start,
		worker.NewAuditWorker(pool, rdb, log).Start,
	} {
		workers.Add(1)
		go func(start func(context.Context)) {
			defer workers.Done()
			start(workerCtx)
		}(start)
	}

	// ─── Expired Session Sweeper ──────────────────────────────────────
	if cfg.SweeperEnabled {
		sweeper := scheduler.NewSweeper(sessionRepo, finalizeService, cfg.SweeperSpec, cfg.SweeperGrace, log)
		if err := sweeper.Start(workerCtx); err != nil {
			log.Fatal().Err(err).Str("spec", cfg.SweeperSpec).Msg("Invalid sweeper schedule")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	loginLimiter := ratelimit.NewFixedWindow(rdb, cfg.LoginRatePerMin, time.Minute)
	r := router.SetupRouter(authService, loginLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
