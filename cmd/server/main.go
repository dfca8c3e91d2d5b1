// Package main is the entrypoint for the renderpipe API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/megaartsstore/renderpipe/internal/api"
	"github.com/megaartsstore/renderpipe/internal/api/handler"
	mw "github.com/megaartsstore/renderpipe/internal/api/middleware"
	"github.com/megaartsstore/renderpipe/internal/api/response"
	"github.com/megaartsstore/renderpipe/internal/blob"
	"github.com/megaartsstore/renderpipe/internal/cache"
	"github.com/megaartsstore/renderpipe/internal/config"
	"github.com/megaartsstore/renderpipe/internal/events"
	"github.com/megaartsstore/renderpipe/internal/metrics"
	"github.com/megaartsstore/renderpipe/internal/pipeline"
	"github.com/megaartsstore/renderpipe/internal/processor"
	"github.com/megaartsstore/renderpipe/internal/scheduler"
	"github.com/megaartsstore/renderpipe/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const httpShutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; invalid values stop startup
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("env", cfg.Server.Env), zap.String("storage", cfg.Storage.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)
	var st store.Store = pgStore

	// 4. Optional Redis: job read cache and rate limiting
	var (
		redisCache *cache.RedisCache
		jobCache   cache.Cache
		counter    cache.Counter
	)
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		jobCache, counter = redisCache, redisCache
		st = store.NewCachedStore(pgStore, redisCache, cfg.Redis.CacheTTL, logger.Named("store"))
		logger.Info("redis connected")
	} else {
		logger.Info("redis not configured, job cache and rate limiting disabled")
	}

	// 5. Blob storage
	blobs, files, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	// 6. Processor backend, chosen once
	proc := processor.NewProcessor(cfg.Processor, logger.Named("processor"))
	logger.Info("processor selected", zap.String("backend", proc.Name()))

	// 7. Job event publisher
	publisher, err := newPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// 8. Pipeline and scheduler
	runner := pipeline.NewRunner(st, blobs, proc, publisher, pipeline.ConfigFrom(cfg.Processor), logger)
	sched := scheduler.New(runner, cfg.Scheduler.Workers, logger)
	sched.Start(context.Background())

	// 9. Build router with dependencies
	auth := mw.NewOperatorAuth(cfg.Auth.OperatorKeyHash)
	if !auth.Enabled() {
		logger.Warn("OPERATOR_KEY_HASH not set, operator routes are unauthenticated")
	}
	deps := api.Dependencies{
		Logger:    logger.Named("http"),
		Auth:      auth,
		RateLimit: mw.NewRateLimit(counter, cfg.Server.RateLimitPerMinute),

		HealthHandler:       healthHandler(pgStore, jobCache, proc.Name()),
		UploadModelHandler:  handler.NewUploadModelHandler(st, blobs, cfg.Server.MaxUploadBytes, logger),
		CreateJobHandler:    handler.NewCreateJobHandler(st, sched, logger),
		GetJobHandler:       handler.NewGetJobHandler(st, logger),
		GetJobResultHandler: handler.NewGetJobResultHandler(st, logger),
		ListProductJobs:     handler.NewListProductJobsHandler(st, logger),
		GetARConfigHandler:  handler.NewGetARConfigHandler(st, logger),
		EnableARHandler:     handler.NewSetAREnabledHandler(st, true, logger),
		DisableARHandler:    handler.NewSetAREnabledHandler(st, false, logger),
		SchedulerStats:      handler.NewSchedulerStatsHandler(sched),
		SchedulerTask:       handler.NewSchedulerTaskHandler(sched),
		MetricsHandler:      metrics.Handler(),
		FilesHandler:        files,
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	// Stop accepting requests first so no job is submitted to a draining scheduler.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	schedCtx, cancelSched := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer cancelSched()
	if err := sched.Shutdown(schedCtx); err != nil {
		logger.Warn("scheduler did not drain in time, in-flight jobs were interrupted", zap.Error(err))
	}

	if serveErr != nil {
		return serveErr
	}
	logger.Info("server stopped gracefully")
	return nil
}

// newLogger builds the process logger. LOG_FORMAT=console selects the
// human-readable development encoder.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newBlobStore returns the configured store and, for local storage, the handler
// that serves it under /files.
func newBlobStore(cfg *config.Config) (blob.Store, http.Handler, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s, err := blob.NewS3Store(cfg.Storage.S3, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 blob store: %w", err)
		}
		return s, nil, nil
	default:
		baseURL := cfg.Storage.PublicBaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%d/files", cfg.Server.Port)
		}
		s, err := blob.NewLocalStore(cfg.Storage.LocalDir, baseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create local blob store: %w", err)
		}
		return s, s.Handler(), nil
	}
}

func newPublisher(cfg config.KafkaConfig, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka not configured, job events disabled")
		return events.NopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	logger.Info("kafka publisher ready", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return p, nil
}

// healthHandler checks database and cache connectivity. A nil cache is reported
// as disabled.
func healthHandler(s store.Store, c cache.Cache, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if c == nil {
			checks["cache"] = "disabled"
		} else if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] == "degraded" || checks["cache"] == "degraded"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"processor": backend,
		})
	}
}
