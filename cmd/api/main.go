package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"restyle/internal/adapter/repo"
	"restyle/internal/batch"
	"restyle/internal/gateway"
	"restyle/internal/infra"
	"restyle/internal/infra/geoip"
	"restyle/internal/ledger"
	"restyle/internal/middleware"
	"restyle/internal/progress"
	"restyle/internal/queue"
	"restyle/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
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

	var publisher gateway.Publisher
	if cfg.AMQPURL != "" {
		jobQueue, err := queue.Connect(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect broker")
		}
		defer jobQueue.Close()
		publisher = jobQueue
	} else {
		logger.Warn().Msg("no broker configured; workers rely on the pending sweep")
	}

	var countryLookup middleware.CountryLookup
	if resolver, err := geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		countryLookup = resolver.CountryCode
	}

	jobs := repo.NewJobRepository(dbpool)
	units := repo.NewUnitRepository(dbpool)
	usageRepo := repo.NewUsageRepository(dbpool, cfg.MonthlyCreditLimit)

	usage := ledger.NewService(usageRepo, logger,
		ledger.WithCache(ledger.NewRedisCache(redisClient, logger)))

	hub := progress.NewHub()
	broadcaster := progress.NewBroadcaster(hub, redisClient, logger)
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go broadcaster.Listen(relayCtx)

	svc := gateway.NewJobService(jobs, units, usage, store, publisher, broadcaster, cfg.StorageBaseURL, logger)
	coord := batch.NewCoordinator(jobs, hub, logger)
	app := gateway.NewApp(svc, coord, hub, logger)

	router := gateway.NewRouter(app, logger, gateway.RouterConfig{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   countryLookup,
		MediaDir:        store.BasePath(),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
