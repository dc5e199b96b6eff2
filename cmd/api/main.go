package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/content-audit/internal/analysis"
	"github.com/kurihiro0119/content-audit/internal/api"
	"github.com/kurihiro0119/content-audit/internal/config"
	"github.com/kurihiro0119/content-audit/internal/events"
	"github.com/kurihiro0119/content-audit/internal/export"
	"github.com/kurihiro0119/content-audit/internal/logging"
	"github.com/kurihiro0119/content-audit/internal/orchestrator"
	"github.com/kurihiro0119/content-audit/internal/progress"
	"github.com/kurihiro0119/content-audit/internal/storage"
	"github.com/kurihiro0119/content-audit/internal/storage/memory"
	"github.com/kurihiro0119/content-audit/internal/storage/postgres"
	"github.com/kurihiro0119/content-audit/internal/storage/redis"
	"github.com/kurihiro0119/content-audit/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Initialize storage
	var store storage.BatchStore
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	case "redis":
		store, err = redis.NewRedisStorage(cfg.RedisAddr, cfg.RedisPrefix)
	case "memory":
		store = memory.NewMemoryStorage()
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.String("storage_type", cfg.StorageType), zap.Error(err))
	}
	defer store.Close()

	// Item events
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		logger.Info("publishing item events", zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaTopic))
	}
	defer publisher.Close()

	client := analysis.NewHTTPClient(analysis.HTTPConfig{
		BaseURL:  cfg.AnalysisURL,
		Token:    cfg.AnalysisToken,
		Timeout:  cfg.AnalysisTimeout,
		MinDelay: cfg.AnalysisMinDelay,
	})

	orch := orchestrator.New(store, client, orchestrator.Options{
		ItemTimeout: cfg.AnalysisTimeout,
		Publisher:   publisher,
		Logger:      logger.Named("orchestrator"),
	})

	reporter := progress.NewReporter(store)
	handler := api.NewHandler(orch, reporter, export.NewExporter(reporter))
	router := api.SetupRoutes(handler, logger.Named("http"))

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting API server",
			zap.String("addr", addr),
			zap.String("storage_type", cfg.StorageType),
			zap.String("analysis_url", cfg.AnalysisURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("batch workers did not stop in time", zap.Error(err))
	}
}
