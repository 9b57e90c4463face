package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servhub/internal/api"
	"servhub/internal/config"
	"servhub/internal/database"
	"servhub/internal/domain"
	"servhub/internal/enrich"
	"servhub/internal/events"
	"servhub/internal/logging"
	"servhub/internal/metrics"
	"servhub/internal/profiles"
	"servhub/internal/service"
	"servhub/internal/sheets"
	"servhub/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	cache := buildProfileCache(cfg, redisClient, &logger)
	profileClient := profiles.NewHTTPProfileClient(cfg.Profiles.BaseURL, time.Duration(cfg.Profiles.FetchTimeout)*time.Second)
	enricher := enrich.NewEnricher(profileClient, cache,
		time.Duration(cfg.Profiles.FetchTimeout)*time.Second,
		cfg.Booking.FetchConcurrency, &logger)

	eventBus := events.NewEventBus()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reportWorker := initReportWorker(ctx, cfg, &logger)

	manager := service.NewBookingManager(db, enricher, eventBus, reportWorker, &logger)
	httpServer := api.NewHTTPServer(cfg.API, cfg.Exports.Path, manager, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "api-main")

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	redisClient := profiles.NewRedisClient(cfg.Redis)
	if err := profiles.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing with memory cache")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// buildProfileCache wires redis-backed caching with a memory fallback, or
// plain memory when redis is absent.
func buildProfileCache(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.ProfileCache {
	memory := profiles.NewMemoryProfileCache()
	if redisClient == nil {
		return memory
	}

	session := uuid.NewString()
	primary := profiles.NewRedisProfileCache(redisClient, session, time.Duration(cfg.Profiles.CacheTTL)*time.Second)
	return profiles.NewFailoverProfileCache(primary, memory, logger)
}

func initReportWorker(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.SyncWorker {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsService, err := sheets.NewSheetsService(cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without reporting")
		return nil
	}

	workerLogger := logging.Component(logger, "report-worker")
	w := worker.NewReportWorker(sheetsService, worker.RetryPolicy{}, &workerLogger)
	go w.Start(ctx)

	logger.Info().Msg("google sheets reporting enabled")
	return w
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
