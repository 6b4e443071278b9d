// Command worker runs only the delivery worker pool. Any number of
// instances may run next to the server against the same database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/newsletter-delivery/internal/config"
	"github.com/notifyhub/newsletter-delivery/internal/db"
	"github.com/notifyhub/newsletter-delivery/internal/gateway"
	"github.com/notifyhub/newsletter-delivery/internal/metrics"
	"github.com/notifyhub/newsletter-delivery/internal/ratelimiter"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
	"github.com/notifyhub/newsletter-delivery/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewPgStore(pool, cfg.IdempotencyLockTimeout)
	gw, err := gateway.FromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to configure email gateway", zap.Error(err))
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSucceeded, onFailed, onRetry, onDeferred := m.WorkerHooks()
	workers := worker.NewPool(cfg, store, gw, ratelimiter.New(cfg.RateLimit), logger, worker.MetricHooks{
		OnSucceeded: onSucceeded,
		OnFailed:    onFailed,
		OnRetry:     onRetry,
		OnDeferred:  onDeferred,
	})
	workers.Start(workerCtx)

	// Metrics-only listener so each worker process can be scraped.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadTimeout: cfg.ReadTimeout}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("worker metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		cancelWorkers()
		workers.Wait()

		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("worker stopped cleanly")
}
