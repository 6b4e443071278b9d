package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// StatsWorker periodically counts delivery tasks by status and hands the
// snapshot to onCounts (the delivery_tasks gauge in production).
type StatsWorker struct {
	repo     repository.DeliveryRepository
	interval time.Duration
	logger   *zap.Logger
	onCounts func(domain.DeliveryCounts)
}

func NewStatsWorker(
	repo repository.DeliveryRepository,
	interval time.Duration,
	logger *zap.Logger,
	onCounts func(domain.DeliveryCounts),
) *StatsWorker {
	return &StatsWorker{repo: repo, interval: interval, logger: logger, onCounts: onCounts}
}

// Run polls once immediately, then every interval.
// Stops cleanly when ctx is cancelled.
func (sw *StatsWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("stats worker started", zap.Duration("interval", sw.interval))
	sw.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("stats worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx)
		}
	}
}

func (sw *StatsWorker) poll(ctx context.Context) {
	counts, err := sw.repo.CountByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			sw.logger.Error("stats poll error", zap.Error(err))
		}
		return
	}
	sw.onCounts(counts)
	sw.logger.Debug("delivery task counts",
		zap.Int("pending", counts.Pending),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed),
	)
}
