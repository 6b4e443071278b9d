package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// outboxWriter persists an issue and its delivery tasks. It never opens a
// transaction itself: it only runs on the tx handed to it by the
// idempotency layer, so the issue and its tasks commit or roll back together.
type outboxWriter struct {
	now func() time.Time
}

// publish stores the issue and creates one pending task per subscriber that
// is confirmed at this moment. Zero confirmed subscribers is not an error.
func (w outboxWriter) publish(ctx context.Context, tx repository.PublishTx, req domain.PublishRequest) (*domain.Issue, int, error) {
	issue := &domain.Issue{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(req.Title),
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		CreatedAt:   w.now().UTC(),
	}

	if err := tx.InsertIssue(ctx, issue); err != nil {
		return nil, 0, fmt.Errorf("insert issue: %w", err)
	}

	n, err := tx.EnqueueDeliveries(ctx, issue.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue deliveries: %w", err)
	}
	return issue, n, nil
}
