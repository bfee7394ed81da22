// Package main is the entry point for the kestreld orchestration daemon.
// It wires all dependencies together and starts the ops HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kestrelvision/kestrel/internal/config"
	"github.com/kestrelvision/kestrel/internal/executor"
	"github.com/kestrelvision/kestrel/internal/inference"
	"github.com/kestrelvision/kestrel/internal/jobs"
	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "kestreld", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Initialize stores.
	execStore, jobStore, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize trigger deduplication (optional).
	dedup, dedupChecker, dedupCloser, err := buildTriggerDedup(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("trigger dedup initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Background task context, cancelled before drain on shutdown.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Step 7: Build the jobs subsystem.
	engine := inference.NewHTTPEngine(cfg.Inference.BaseURL, cfg.Inference.Timeout)
	registry := jobs.NewRegistry(jobStore, logger, metrics)
	starter := jobs.NewStarter(bgCtx, jobStore, registry, engine, jobs.StarterConfig{
		Stride:           cfg.Jobs.FrameStride,
		StatsUpdateEvery: cfg.Jobs.StatsUpdateEvery,
		CaptureBaseURL:   cfg.Jobs.CaptureBaseURL,
		SourceTimeout:    cfg.Jobs.SourceTimeout,
	}, logger, metrics)

	go registry.RunSweeper(bgCtx, cfg.Jobs.SweepInterval, cfg.Jobs.InactivityTimeout)

	// Step 8: Build the workflow subsystem.
	executors := executor.NewRegistry(
		executor.NewTriggerExecutor(),
		executor.NewConditionExecutor(),
		executor.NewWebhookExecutor(10*time.Second),
		executor.NewInferenceExecutor(engine),
		executor.NewBatchInferenceExecutor(starter),
		executor.NewVideoInferenceExecutor(starter),
		executor.NewTrainingExecutor(starter),
		executor.NewExportExecutor(starter),
	)
	worker := workflow.NewWorker(execStore, executors, jobStore, workflow.WorkerConfig{
		ExecutionTimeout: cfg.Workflow.ExecutionTimeout,
		JobPollInterval:  cfg.Workflow.JobPollInterval,
	}, logger, metrics)
	runner := workflow.NewRunner(bgCtx, worker, execStore, dedup, workflow.RunnerConfig{
		MaxConcurrentExecutions: cfg.Workflow.MaxConcurrentExecutions,
		DedupTTL:                cfg.Idempotency.DefaultTTL,
	}, logger)

	// Step 9: Build the ops HTTP router.
	readinessChecks := observability.ReadinessChecks{
		ExecutionStore:   execStore,
		JobStore:         jobStore,
		IdempotencyStore: dedupChecker,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", observability.HandleHealth())
	router.Get("/readyz", observability.HandleReady(readinessChecks))
	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start the ops server.
	logger.Info("kestreld started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background work and wait for executions and sessions to
	// finalize their records.
	bgCancel()
	runner.Drain()
	starter.Drain()

	// Close stores.
	if storeCloser != nil {
		storeCloser()
	}
	if dedupCloser != nil {
		dedupCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores creates the execution and job stores based on config.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.ExecutionStore, jobs.JobStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return workflow.NewMemoryExecutionStore(), jobs.NewMemoryJobStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return workflow.NewPgExecutionStore(pool), jobs.NewPgJobStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildTriggerDedup creates the trigger dedup store based on config. Returns
// nils when deduplication is disabled.
func buildTriggerDedup(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.TriggerDedup, observability.HealthChecker, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory trigger dedup")
		return workflow.NewMemoryTriggerDedup(), nil, nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("trigger dedup: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("trigger dedup: ping redis: %w", err)
		}

		closer := func() { client.Close() }
		return workflow.NewRedisTriggerDedup(client), redisChecker{client}, closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported trigger dedup driver: %q", cfg.Driver)
	}
}

// redisChecker adapts a redis client to the HealthChecker interface.
type redisChecker struct {
	client *redis.Client
}

func (c redisChecker) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
