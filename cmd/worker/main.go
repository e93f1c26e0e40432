package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/autosave"
	"github.com/benvon/visionpath/internal/config"
	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/logger"
	"github.com/benvon/visionpath/internal/queue"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/tracker"
	"github.com/benvon/visionpath/internal/workers"
)

const (
	rabbitMQAttempts = 10
	dlqInterval      = time.Hour
	dlqRetention     = 24 * time.Hour
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.WorkerDebugMode || *debugFlag

	zapLogger, err := logger.New(logger.Options{Debug: debugMode, Format: cfg.LogFormat, Service: "visionpath-worker"})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync(zapLogger)

	// The worker reads projects written by the API server, which only share a
	// store through Postgres
	if !cfg.UsesPostgres() {
		zapLogger.Fatal("worker_requires_database_url")
	}
	if !cfg.TrackerEnabled() {
		zapLogger.Fatal("worker_requires_tracker_and_rabbitmq_configuration")
	}

	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
		zap.String("tracker_provider", cfg.TrackerProvider),
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	jobQueue, err := queue.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, rabbitMQAttempts, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq")

	client, err := tracker.NewHTTPClient(tracker.Config{
		BaseURL:           cfg.TrackerBaseURL,
		Token:             cfg.TrackerToken,
		RequestsPerSecond: cfg.TrackerRPS,
	})
	if err != nil {
		zapLogger.Fatal("failed_to_create_tracker_client", zap.Error(err))
	}

	repo := database.NewProjectRepository(db)
	saver := autosave.NewSaver(repo, zapLogger, autosave.WithDelay(cfg.AutosaveDelay))
	svc := projects.NewService(repo, saver, zapLogger)
	syncer := workers.NewTrackerSyncer(svc, client, jobQueue, cfg.TrackerProvider, zapLogger)

	gc := queue.NewGarbageCollector(jobQueue, dlqInterval, dlqRetention, zapLogger)
	go func() {
		if err := gc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
		}
	}()

	zapLogger.Info("worker_started")
	if err := syncer.Run(ctx, cfg.RabbitMQPrefetch); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Error("worker_stopped_with_error", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := saver.FlushNow(flushCtx); err != nil {
		zapLogger.Error("failed_to_flush_pending_saves", zap.Error(err))
	}
	zapLogger.Info("worker_stopped")
}
