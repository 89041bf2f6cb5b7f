package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/database"
	"github.com/DeepStacker/dsba-lms-sub001/internal/events"
	"github.com/DeepStacker/dsba-lms-sub001/internal/handler"
	"github.com/DeepStacker/dsba-lms-sub001/internal/logger"
	"github.com/DeepStacker/dsba-lms-sub001/internal/repository"
	"github.com/DeepStacker/dsba-lms-sub001/internal/router"
	"github.com/DeepStacker/dsba-lms-sub001/internal/service"
	"github.com/DeepStacker/dsba-lms-sub001/internal/session"
	"github.com/DeepStacker/dsba-lms-sub001/internal/validator"
	"github.com/DeepStacker/dsba-lms-sub001/internal/worker"
	"github.com/rs/zerolog"
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
		Msg("Starting DSBA LMS attempt engine")

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

	// ─── Proctor Event Publisher ───────────────────────────────────────
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled {
		kafkaPub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.ProctorTopic, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka publisher")
		}
		publisher = kafkaPub
	}
	defer publisher.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)
	proctorRepo := repository.NewProctorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	scorer := session.NewScorer(session.ParseRiskWeights(cfg.RiskWeightsSpec))
	gateway := service.NewAttemptGateway(attemptRepo, examRepo, responseRepo, rdb, publisher, log)
	attemptService := service.NewAttemptService(attemptRepo, examRepo, proctorRepo, scorer)

	// ─── Session Registry ─────────────────────────────────────────────
	registry := session.NewRegistry(session.Config{
		TickInterval:      cfg.TickInterval,
		AutosaveInterval:  cfg.AutosaveInterval,
		FinalFlushTimeout: cfg.FinalFlushTimeout,
		WarningDuration:   cfg.WarningDuration,
		SaveFailWarnAfter: cfg.SaveFailWarnAfter,
		Weights:           session.ParseRiskWeights(cfg.RiskWeightsSpec),
		Logger:            log,
	}, gateway, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(registry, attemptService, log),
		WS:      handler.NewWSHandler(registry, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, attemptService, log),
		System:  handler.NewSystemHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	responseWorker := worker.NewResponseWorker(responseRepo, rdb, log)
	proctorWorker := worker.NewProctorWorker(proctorRepo, rdb, log)
	riskWorker := worker.NewRiskWorker(proctorRepo, attemptRepo, scorer, rdb, log)

	go responseWorker.Start(workerCtx)
	go proctorWorker.Start(workerCtx)
	go riskWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

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

	// 2. Finalize live attempts so their last flush and submit land before
	//    the workers go away.
	registry.CloseAll()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
