package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

// ErrQueueEmpty is returned by ClaimNext when no pending task is due.
var ErrQueueEmpty = errors.New("no delivery task is due")

// PublishTx is the set of writes the publish path performs inside one
// transaction: the idempotency row, the issue and its delivery tasks.
type PublishTx interface {
	// InsertIdempotencyKey inserts a placeholder row for (userID, key) unless
	// one exists. It reports whether this call created the row.
	InsertIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (bool, error)
	GetIdempotencyRecord(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error)
	SaveIdempotencyResponse(ctx context.Context, userID uuid.UUID, key string, resp *domain.StoredResponse, issueID *uuid.UUID) error

	InsertIssue(ctx context.Context, issue *domain.Issue) error
	// EnqueueDeliveries creates one pending task per currently confirmed
	// subscriber and returns how many were created.
	EnqueueDeliveries(ctx context.Context, issueID uuid.UUID) (int, error)
}

// PublishRepository runs fn inside a single transaction. Any error returned
// by fn rolls back every write made through tx.
type PublishRepository interface {
	WithinPublishTx(ctx context.Context, fn func(tx PublishTx) error) error
}

// DeliveryRepository is the worker's view of the outbox.
// The pgx implementation is in pg_newsletter_repo.go.
// Tests use a hand-written mock (mock_newsletter_repo.go).
type DeliveryRepository interface {
	// ClaimNext locks one due pending task with skip-locked semantics and
	// pushes its last_attempt lease forward so no other worker can claim it
	// while it is in flight. Returns ErrQueueEmpty when nothing is due.
	ClaimNext(ctx context.Context, lease time.Duration) (*domain.DeliveryTask, error)
	// LoadDelivery re-reads the subscriber's current email and the issue content.
	LoadDelivery(ctx context.Context, key domain.TaskKey) (*domain.Delivery, error)

	// The resolve methods only touch pending rows. They return
	// domain.ErrNotFound when the task is missing or already terminal.
	MarkSucceeded(ctx context.Context, key domain.TaskKey) error
	ScheduleRetry(ctx context.Context, key domain.TaskKey, retryCount int, delay time.Duration, errMsg string) error
	MarkFailed(ctx context.Context, key domain.TaskKey, retryCount int, errMsg string) error

	CountByStatus(ctx context.Context) (domain.DeliveryCounts, error)
}

type IssueRepository interface {
	GetIssueReport(ctx context.Context, id uuid.UUID) (*domain.IssueReport, error)
}

type UserRepository interface {
	// GetCredentials returns the user id and PHC password hash for username,
	// or domain.ErrNotFound.
	GetCredentials(ctx context.Context, username string) (uuid.UUID, string, error)
}
