// Package main is the entrypoint for the FinScan API server.
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

	"github.com/kiranshivaraju/finscan/internal/ai"
	"github.com/kiranshivaraju/finscan/internal/api"
	"github.com/kiranshivaraju/finscan/internal/api/handler"
	mw "github.com/kiranshivaraju/finscan/internal/api/middleware"
	"github.com/kiranshivaraju/finscan/internal/api/response"
	"github.com/kiranshivaraju/finscan/internal/cache"
	"github.com/kiranshivaraju/finscan/internal/config"
	"github.com/kiranshivaraju/finscan/internal/jobs"
	"github.com/kiranshivaraju/finscan/internal/pdf"
	"github.com/kiranshivaraju/finscan/internal/pipeline"
	"github.com/kiranshivaraju/finscan/internal/store"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	auth, err := mw.NewAuth(cfg.Auth.APIKeyHashes)
	if err != nil {
		return fmt.Errorf("configure api keys: %w", err)
	}
	if !auth.Enabled() {
		slog.Warn("no API key hashes configured, authentication disabled")
	}

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

	pgStore := store.NewPostgresStore(pool)
	warnUnfinishedJobs(ctx, pgStore)

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

	// 5. Create AI provider and the analysis pipeline
	aiProvider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name(), "model", aiProvider.Model())

	stages, err := pipeline.LoadStages(cfg.Pipeline.StagesFile)
	if err != nil {
		return fmt.Errorf("load pipeline stages: %w", err)
	}
	runner := pipeline.New(aiProvider, pdf.NewExtractor("", logger), stages, pipeline.Options{
		Temperature:      cfg.AI.Temperature,
		MaxTokens:        cfg.AI.MaxTokens,
		MaxDocumentChars: cfg.Pipeline.MaxDocumentBytes,
		RequestsPerMin:   cfg.AI.RequestsPerMin,
		Logger:           logger,
	})
	slog.Info("pipeline ready", "stages", runner.Stages())

	// 6. Start the job dispatcher
	capture := jobs.NewCapture(logger)
	dispatcher := jobs.NewDispatcher(pgStore, runner, capture, jobs.Options{
		Workers:       cfg.Jobs.Workers,
		QueueSize:     cfg.Jobs.QueueSize,
		Timeout:       cfg.Jobs.Timeout,
		FlushInterval: cfg.Jobs.LogFlushInterval,
		Logger:        logger,
	})
	// Not tied to the signal context: shutdown drains running jobs before aborting them.
	dispatcher.Start(context.Background())
	query := jobs.NewQuery(pgStore, redisCache, capture, cfg.Jobs.StatusTTL)

	// 7. Build router with dependencies
	uploads := handler.UploadConfig{
		Dir:          cfg.Storage.UploadDir,
		MaxBytes:     cfg.Storage.MaxUploadBytes,
		DefaultQuery: cfg.Storage.DefaultQuery,
		SamplePath:   cfg.Storage.SamplePDFPath,
	}

	deps := api.Dependencies{
		Auth:        auth,
		RateLimit:   mw.NewRateLimit(redisCache, cfg.Auth.RequestsPerMin),
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:        healthHandler(pgStore, redisCache, dispatcher),
		AnalyzeHandler:       handler.NewAnalyzeHandler(dispatcher, uploads),
		AnalyzeSampleHandler: handler.NewAnalyzeSampleHandler(dispatcher, uploads),
		StatusHandler:        handler.NewStatusHandler(query),
		HistoryHandler:       handler.NewHistoryHandler(query),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
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
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout: stop taking requests, then let running jobs finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("jobs aborted during shutdown", "error", err)
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("server stopped gracefully")
	return nil
}

// warnUnfinishedJobs reports jobs a previous process left behind. They are not
// resumed.
func warnUnfinishedJobs(ctx context.Context, s store.Store) {
	n, err := s.CountJobs(ctx, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		slog.Warn("count unfinished jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("unfinished jobs from a previous run will not be resumed", "count", n)
	}
}

type jobStats interface {
	Running() int
	Pending() int
	Attached() int
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache, d jobStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"jobs": map[string]int{
				"running":  d.Running(),
				"pending":  d.Pending(),
				"attached": d.Attached(),
			},
		})
	}
}
