// Package main is the entrypoint for the Agent Score API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/agentscore/internal/ai"
	"github.com/kiranshivaraju/agentscore/internal/api"
	"github.com/kiranshivaraju/agentscore/internal/api/handler"
	mw "github.com/kiranshivaraju/agentscore/internal/api/middleware"
	"github.com/kiranshivaraju/agentscore/internal/batch"
	"github.com/kiranshivaraju/agentscore/internal/cache"
	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/internal/metrics"
	"github.com/kiranshivaraju/agentscore/internal/scoring"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/kiranshivaraju/agentscore/internal/window"
	"github.com/kiranshivaraju/agentscore/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider. Missing credentials surface per run, not here.
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	if err := aiProvider.CheckConfig(); err != nil {
		slog.Warn("AI provider not configured, runs will be refused", "provider", aiProvider.Name(), "error", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name(), "model", aiProvider.Model())

	// 6. Build router
	router := newRouter(cfg, store.NewPostgresStore(pool), redisCache, aiProvider)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.Batch),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRouter wires the batch engine and every handler onto the store, cache
// and provider.
func newRouter(cfg *config.Config, s store.Store, c cache.Cache, provider models.AIProvider) http.Handler {
	reg, m := metrics.NewRegistry()

	controller := batch.NewController(s)
	runner := batch.NewRunner(batch.RunnerDeps{
		Controller: controller,
		Store:      s,
		Fetcher:    window.NewFetcher(s, cfg.Batch.MinRecords, cfg.Batch.TranscriptPrefix),
		Scorer:     scoring.NewClient(provider, cfg.AI.MaxOutputTokens),
		Quota:      batch.NewQuota(c, cfg.Batch.DailyAICallQuota),
		Metrics:    m,
		Config:     cfg.Batch,
		Logger:     slog.Default(),
	})
	v := handler.NewValidator()

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute).CountRejections(m.RateLimited),

		HealthHandler:  handler.NewHealthHandler(s, c),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),

		CreateJobHandler: handler.NewCreateJobHandler(controller, v),
		RunJobHandler:    handler.NewRunJobHandler(runner, v),
		JobStatusHandler: handler.NewJobStatusHandler(controller),
		CancelJobHandler: handler.NewCancelJobHandler(controller),
		DeleteJobHandler: handler.NewDeleteJobHandler(controller),

		HistoryHandler:     handler.NewHistoryHandler(s),
		LatestScoreHandler: handler.NewLatestScoreHandler(s),
	})
}

// writeTimeout leaves room for a full run of MaxTake tasks, each of which
// may make a repair call, before the response is cut off.
func writeTimeout(b config.BatchConfig) time.Duration {
	return time.Duration(b.MaxTake)*b.TaskTimeout + 30*time.Second
}
