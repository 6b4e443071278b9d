package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/newsletter-delivery/internal/api"
	"github.com/notifyhub/newsletter-delivery/internal/auth"
	"github.com/notifyhub/newsletter-delivery/internal/config"
	"github.com/notifyhub/newsletter-delivery/internal/db"
	"github.com/notifyhub/newsletter-delivery/internal/gateway"
	"github.com/notifyhub/newsletter-delivery/internal/metrics"
	"github.com/notifyhub/newsletter-delivery/internal/ratelimiter"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
	"github.com/notifyhub/newsletter-delivery/internal/service"
	"github.com/notifyhub/newsletter-delivery/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewPgStore(pool, cfg.IdempotencyLockTimeout)
	gw, err := gateway.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to configure email gateway", zap.Error(err))
	}
	limiter := ratelimiter.New(cfg.RateLimit)
	svc := service.NewPublishService(store, store, logger, m.PublishHook())
	authn := auth.NewAuthenticator(store, logger)

	// ---- worker pool ----
	// Context for all background goroutines; cancelled on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSucceeded, onFailed, onRetry, onDeferred := m.WorkerHooks()
	workers := worker.NewPool(cfg, store, gw, limiter, logger, worker.MetricHooks{
		OnSucceeded: onSucceeded,
		OnFailed:    onFailed,
		OnRetry:     onRetry,
		OnDeferred:  onDeferred,
	})
	workers.Start(workerCtx)

	statsW := worker.NewStatsWorker(store, cfg.StatsInterval, logger, m.SetTaskCounts)

	// ---- HTTP server ----
	router := api.NewRouter(svc, authn, store, store, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		statsW.Run(workerCtx)
		return nil
	})

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ---- graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// 1. Stop accepting new HTTP requests.
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 2. Signal all workers to stop claiming new tasks.
		cancelWorkers()

		// 3. Wait for in-flight deliveries to be sent and resolved.
		workers.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
