package domain

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	MaxTitleLength          = 512
	MaxIdempotencyKeyLength = 128
)

// SubscriberStatus is owned by the confirmation subsystem; delivery only reads it.
type SubscriberStatus string

const (
	SubscriberPendingConfirmation SubscriberStatus = "pending_confirmation"
	SubscriberConfirmed           SubscriberStatus = "confirmed"
)

type Subscriber struct {
	ID           uuid.UUID        `json:"id"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	Status       SubscriberStatus `json:"status"`
	SubscribedAt time.Time        `json:"subscribed_at"`
}

// Issue is a published newsletter issue. Immutable once stored.
type Issue struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	HTMLContent string    `json:"html_content"`
	TextContent string    `json:"text_content"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskStatus tracks the lifecycle of a delivery task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskSucceeded, TaskFailed:
		return true
	}
	return false
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// CanTransitionTo reports whether a task may move from s to next.
// Pending may stay pending (retry scheduling) or become terminal; terminal
// states never change again.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s != TaskPending {
		return false
	}
	return next.IsValid()
}

// TaskKey is the composite identity of a delivery task.
type TaskKey struct {
	IssueID      uuid.UUID `json:"issue_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
}

func (k TaskKey) String() string {
	return k.IssueID.String() + "/" + k.SubscriberID.String()
}

// DeliveryTask is one row of the outbox: one issue for one subscriber.
// LastAttempt doubles as the earliest time the task may be claimed again.
type DeliveryTask struct {
	IssueID      uuid.UUID  `json:"issue_id"`
	SubscriberID uuid.UUID  `json:"subscriber_id"`
	Status       TaskStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}

func (t *DeliveryTask) Key() TaskKey {
	return TaskKey{IssueID: t.IssueID, SubscriberID: t.SubscriberID}
}

// Delivery is a claimed task joined with the data needed to send it:
// the subscriber's current email and the issue content.
type Delivery struct {
	Key         TaskKey
	RetryCount  int
	Email       string
	Title       string
	HTMLContent string
	TextContent string
}

// DeliveryCounts summarises tasks by status.
type DeliveryCounts struct {
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// IssueReport is an issue together with the state of its fan-out.
type IssueReport struct {
	Issue      *Issue         `json:"issue"`
	Deliveries DeliveryCounts `json:"deliveries"`
}

// StoredResponse is the HTTP response recorded against an idempotency key.
// Replays write it back verbatim.
type StoredResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// IdempotencyRecord is keyed by (UserID, Key). Response is nil while the
// request that created the row is still in flight.
type IdempotencyRecord struct {
	UserID    uuid.UUID
	Key       string
	Response  *StoredResponse
	IssueID   *uuid.UUID
	CreatedAt time.Time
}

// PublishRequest is the inbound payload of POST /newsletters.
type PublishRequest struct {
	Title       string `json:"title"`
	HTMLContent string `json:"html_content"`
	TextContent string `json:"text_content"`
}

func (r *PublishRequest) Validate() error {
	if err := validation.Validate(strings.TrimSpace(r.Title),
		validation.Required, validation.RuneLength(1, MaxTitleLength)); err != nil {
		return ErrInvalidTitle
	}
	if err := validation.Validate(strings.TrimSpace(r.HTMLContent), validation.Required); err != nil {
		return ErrInvalidHTMLContent
	}
	if err := validation.Validate(strings.TrimSpace(r.TextContent), validation.Required); err != nil {
		return ErrInvalidTextContent
	}
	return nil
}

// ValidateIdempotencyKey checks the opaque client-supplied key.
func ValidateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingIdempotencyKey
	}
	if len(key) > MaxIdempotencyKeyLength {
		return ErrIdempotencyKeyTooLong
	}
	return nil
}

// PublishResult is the body returned for a successful publish and stored
// for replays.
type PublishResult struct {
	IssueID            uuid.UUID `json:"issue_id"`
	Title              string    `json:"title"`
	DeliveriesEnqueued int       `json:"deliveries_enqueued"`
	CreatedAt          time.Time `json:"created_at"`
}
