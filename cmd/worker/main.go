package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"restyle/internal/adapter/repo"
	"restyle/internal/generation"
	"restyle/internal/infra"
	"restyle/internal/ledger"
	"restyle/internal/metrics"
	"restyle/internal/progress"
	"restyle/internal/queue"
	"restyle/internal/storage"
	"restyle/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	jobs := repo.NewJobRepository(dbpool)
	units := repo.NewUnitRepository(dbpool)
	usageRepo := repo.NewUsageRepository(dbpool, cfg.MonthlyCreditLimit)
	usage := ledger.NewService(usageRepo, logger,
		ledger.WithCache(ledger.NewRedisCache(redisClient, logger)))

	var provider generation.Generator
	if cfg.GeminiAPIKey != "" {
		provider = generation.NewGemini(generation.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Logger:  logger,
		})
	} else {
		logger.Warn().Msg("no API key configured; using the synthetic provider")
		provider = generation.NewSynthetic()
	}
	adapter := generation.NewAdapter(provider, logger,
		generation.WithMaxAttempts(cfg.MaxAttempts),
		generation.WithAttemptTimeout(cfg.AttemptTimeout))

	hub := progress.NewHub()
	broadcaster := progress.NewBroadcaster(hub, redisClient, logger)
	executor := worker.NewExecutor(jobs, units, usage, adapter, store, broadcaster, cfg.StorageBaseURL, logger)
	pool := worker.NewPool(jobs, executor, cfg.WorkerCount, cfg.JobPollInterval, logger)

	var deliveries <-chan queue.Delivery
	if cfg.AMQPURL != "" {
		jobQueue, err := queue.Connect(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect broker")
		}
		defer jobQueue.Close()
		deliveries, err = jobQueue.Consume(cfg.WorkerCount)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start consumer")
		}
	} else {
		logger.Warn().Msg("no broker configured; relying on the pending sweep")
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Msgf("metrics listening on :%s", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().Int("workers", cfg.WorkerCount).Msg("worker pool starting")
	if err := pool.Run(ctx, deliveries); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker pool stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown metrics server")
	}
	logger.Info().Msg("worker stopped")
}
