package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/config"
	"github.com/notifyhub/newsletter-delivery/internal/gateway"
	"github.com/notifyhub/newsletter-delivery/internal/ratelimiter"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnSucceeded func(latency time.Duration)
	OnFailed    func(reason string)
	OnRetry     func()
	OnDeferred  func()
}

// Pool manages the lifecycle of all delivery workers.
// Workers never coordinate in memory; the skip-locked claim keeps them
// from picking the same task.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// OptionsFromConfig maps the worker section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:   cfg.MaxRetries,
		PollInterval: cfg.PollInterval,
		Lease:        cfg.InFlightLease,
		SendTimeout:  cfg.EmailTimeout,
		Backoff: Backoff{
			Base:     cfg.RetryBaseDelay,
			Max:      cfg.RetryMaxDelay,
			Schedule: cfg.RetrySchedule,
		},
		UnavailableDelay: cfg.BreakerOpenDelay,
	}
}

// NewPool creates cfg.WorkerConcurrency identical workers sharing one
// gateway client and one rate limiter.
func NewPool(
	cfg *config.Config,
	repo repository.DeliveryRepository,
	gw gateway.Client,
	limiter *ratelimiter.Limiter,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	opts := OptionsFromConfig(cfg)
	workers := make([]*Worker, cfg.WorkerConcurrency)

	for i := range workers {
		workers[i] = NewWorker(
			i, repo, gw, limiter, opts,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}

	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight tasks finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}
