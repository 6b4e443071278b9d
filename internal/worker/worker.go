package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/gateway"
	"github.com/notifyhub/newsletter-delivery/internal/ratelimiter"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// Reasons reported to the onFailed hook.
const (
	ReasonPermanent = "permanent"
	ReasonExhausted = "retries_exhausted"
	ReasonMissing   = "missing_data"
)

// Options tune a single worker. See config.Config for the defaults.
type Options struct {
	// MaxRetries bounds rescheduled transient failures. A task is retried
	// while retry_count+1 <= MaxRetries, so the gateway sees at most
	// MaxRetries+1 sends before the task fails.
	MaxRetries   int
	PollInterval time.Duration
	// Lease is how far a claim pushes last_attempt forward. A task whose
	// worker died mid-attempt becomes claimable again once it expires.
	Lease       time.Duration
	SendTimeout time.Duration
	Backoff     Backoff
	// UnavailableDelay postpones a task whose send was refused before
	// reaching the gateway (open circuit). Zero falls back to the first
	// backoff step.
	UnavailableDelay time.Duration
}

// Worker repeatedly claims one due task from the outbox, sends it through
// the gateway and records the outcome on the task row. All state lives in
// the row, so any number of workers in any number of processes can share
// the table.
type Worker struct {
	id      int
	repo    repository.DeliveryRepository
	gw      gateway.Client
	limiter *ratelimiter.Limiter
	opts    Options
	logger  *zap.Logger

	// Hooks for metrics, injected by the pool so the worker stays metrics-agnostic.
	onSucceeded func(latency time.Duration)
	onFailed    func(reason string)
	onRetry     func()
	onDeferred  func()
}

// NewWorker constructs a worker. Hook fields left nil are no-ops.
func NewWorker(
	id int,
	repo repository.DeliveryRepository,
	gw gateway.Client,
	limiter *ratelimiter.Limiter,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	w := &Worker{
		id: id, repo: repo, gw: gw, limiter: limiter, opts: opts, logger: logger,
		onSucceeded: hooks.OnSucceeded,
		onFailed:    hooks.OnFailed,
		onRetry:     hooks.OnRetry,
		onDeferred:  hooks.OnDeferred,
	}
	if w.onSucceeded == nil {
		w.onSucceeded = func(time.Duration) {}
	}
	if w.onFailed == nil {
		w.onFailed = func(string) {}
	}
	if w.onRetry == nil {
		w.onRetry = func() {}
	}
	if w.onDeferred == nil {
		w.onDeferred = func() {}
	}
	return w
}

// Run blocks until ctx is cancelled, processing one task per iteration and
// sleeping PollInterval whenever nothing is due. A task already claimed when
// ctx is cancelled is still sent and resolved before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("claim failed", zap.Error(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether a task
// was processed; the error is non-nil only when the claim itself failed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	// Take the token before claiming so a shutdown during the wait never
	// strands a leased task.
	if err := w.limiter.Wait(ctx); err != nil {
		return false, err
	}

	task, err := w.repo.ClaimNext(ctx, w.opts.Lease)
	if errors.Is(err, repository.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim next task: %w", err)
	}

	// From here on the task is ours; finish it even if ctx is cancelled.
	w.process(context.WithoutCancel(ctx), task)
	return true, nil
}

func (w *Worker) process(ctx context.Context, task *domain.DeliveryTask) {
	start := time.Now()
	key := task.Key()
	log := w.logger.With(
		zap.String("issue_id", key.IssueID.String()),
		zap.String("subscriber_id", key.SubscriberID.String()),
		zap.Int("retry_count", task.RetryCount),
	)

	d, err := w.repo.LoadDelivery(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("subscriber or issue no longer exists")
		w.fail(ctx, log, key, task.RetryCount, "subscriber or issue no longer exists", ReasonMissing)
		return
	}
	if err != nil {
		// The lease expires and the task is claimed again later.
		log.Error("failed to load delivery", zap.Error(err))
		return
	}

	sendCtx := ctx
	if w.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.opts.SendTimeout)
		defer cancel()
	}

	sendErr := w.gw.Send(sendCtx, gateway.Email{
		To:      d.Email,
		Subject: d.Title,
		HTML:    d.HTMLContent,
		Text:    d.TextContent,
	})
	elapsed := time.Since(start)

	if sendErr == nil {
		if err := w.repo.MarkSucceeded(ctx, key); err != nil {
			w.logResolveError(log, "failed to mark as succeeded", err)
			return
		}
		w.onSucceeded(elapsed)
		log.Info("delivery succeeded", zap.Duration("latency", elapsed))
		return
	}

	w.handleFailure(ctx, log, key, task.RetryCount, sendErr)
}

// handleFailure either schedules a retry (transient, retries remain) or
// marks the task as failed. A permanent failure keeps its retry count.
//
//	gateway unavailable                    → pending, last_attempt = now + UnavailableDelay, retry_count unchanged
//	transient, retry_count+1 <= MaxRetries → pending, last_attempt = now + backoff
//	transient, retry_count+1 >  MaxRetries → failed, retry_count+1
//	permanent                              → failed, retry_count unchanged
func (w *Worker) handleFailure(ctx context.Context, log *zap.Logger, key domain.TaskKey, retryCount int, sendErr error) {
	if errors.Is(sendErr, gateway.ErrUnavailable) {
		w.postpone(ctx, log, key, retryCount, sendErr)
		return
	}

	if gateway.KindOf(sendErr) == gateway.KindPermanent {
		log.Warn("permanent delivery failure", zap.Error(sendErr))
		w.fail(ctx, log, key, retryCount, sendErr.Error(), ReasonPermanent)
		return
	}

	next := retryCount + 1
	if next > w.opts.MaxRetries {
		log.Warn("retries exhausted", zap.Error(sendErr), zap.Int("attempts", next))
		w.fail(ctx, log, key, next, sendErr.Error(), ReasonExhausted)
		return
	}

	delay := w.opts.Backoff.Delay(next)
	if err := w.repo.ScheduleRetry(ctx, key, next, delay, sendErr.Error()); err != nil {
		w.logResolveError(log, "failed to schedule retry", err)
		return
	}
	w.onRetry()
	log.Info("transient delivery failure, retry scheduled",
		zap.Error(sendErr),
		zap.Int("next_retry_count", next),
		zap.Duration("backoff", delay),
	)
}

// postpone reschedules a task the gateway never saw. The attempt is not
// counted, so an open circuit cannot exhaust a task's retries.
func (w *Worker) postpone(ctx context.Context, log *zap.Logger, key domain.TaskKey, retryCount int, sendErr error) {
	delay := w.opts.UnavailableDelay
	if delay <= 0 {
		delay = w.opts.Backoff.Delay(1)
	}
	if err := w.repo.ScheduleRetry(ctx, key, retryCount, delay, sendErr.Error()); err != nil {
		w.logResolveError(log, "failed to postpone delivery", err)
		return
	}
	w.onDeferred()
	log.Info("email gateway unavailable, delivery postponed", zap.Duration("delay", delay))
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, key domain.TaskKey, retryCount int, msg, reason string) {
	if err := w.repo.MarkFailed(ctx, key, retryCount, msg); err != nil {
		w.logResolveError(log, "failed to mark as failed", err)
		return
	}
	w.onFailed(reason)
}

func (w *Worker) logResolveError(log *zap.Logger, msg string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		// Another worker resolved the task after our lease expired.
		log.Warn(msg+": task is no longer pending", zap.Error(err))
		return
	}
	log.Error(msg, zap.Error(err))
}
