package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

// Publish outcomes reported to the metrics hook.
const (
	OutcomeCreated  = "created"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// PublishService is the idempotency layer in front of the outbox writer.
// For a given (user, key) the issue and its delivery tasks are created at
// most once and every caller gets the same stored response back.
type PublishService struct {
	repo      repository.PublishRepository
	issues    repository.IssueRepository
	outbox    outboxWriter
	logger    *zap.Logger
	onOutcome func(outcome string)
}

// NewPublishService wires the service. onOutcome is optional (nil = no-op).
func NewPublishService(
	repo repository.PublishRepository,
	issues repository.IssueRepository,
	logger *zap.Logger,
	onOutcome func(string),
) *PublishService {
	if onOutcome == nil {
		onOutcome = func(string) {}
	}
	return &PublishService{
		repo:      repo,
		issues:    issues,
		outbox:    outboxWriter{now: time.Now},
		logger:    logger,
		onOutcome: onOutcome,
	}
}

// Publish validates the request, then inside one transaction either replays
// the response stored for (userID, key) or publishes the issue, fans it out
// and stores the response it produced.
//
// The payload is not part of the lookup: a retry under the same key gets the
// first response even if its body differs.
//
// Returns domain.ErrConflict while another request with the same key has
// not committed yet; the caller should retry after a short delay.
func (s *PublishService) Publish(
	ctx context.Context,
	userID uuid.UUID,
	key string,
	req domain.PublishRequest,
) (*domain.StoredResponse, error) {
	if err := domain.ValidateIdempotencyKey(key); err != nil {
		s.onOutcome(OutcomeInvalid)
		return nil, err
	}
	if err := req.Validate(); err != nil {
		s.onOutcome(OutcomeInvalid)
		return nil, err
	}

	log := s.logger.With(zap.String("user_id", userID.String()), zap.String("idempotency_key", key))

	var (
		resp     *domain.StoredResponse
		replayed bool
		result   domain.PublishResult
	)
	err := s.repo.WithinPublishTx(ctx, func(tx repository.PublishTx) error {
		inserted, err := tx.InsertIdempotencyKey(ctx, userID, key)
		if err != nil {
			return fmt.Errorf("insert idempotency key: %w", err)
		}

		if !inserted {
			rec, err := tx.GetIdempotencyRecord(ctx, userID, key)
			if err != nil {
				return fmt.Errorf("load idempotency record: %w", err)
			}
			if rec.Response == nil {
				return domain.ErrConflict
			}
			resp, replayed = rec.Response, true
			return nil
		}

		issue, enqueued, err := s.outbox.publish(ctx, tx, req)
		if err != nil {
			return err
		}

		result = domain.PublishResult{
			IssueID:            issue.ID,
			Title:              issue.Title,
			DeliveriesEnqueued: enqueued,
			CreatedAt:          issue.CreatedAt,
		}
		resp, err = createdResponse(result)
		if err != nil {
			return err
		}

		if err := tx.SaveIdempotencyResponse(ctx, userID, key, resp, &issue.ID); err != nil {
			return fmt.Errorf("save idempotency response: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.onOutcome(OutcomeConflict)
			log.Info("idempotency key still in flight")
		} else {
			s.onOutcome(OutcomeError)
			log.Error("publish transaction failed", zap.Error(err))
		}
		return nil, err
	}

	if replayed {
		s.onOutcome(OutcomeReplayed)
		log.Info("replayed stored response")
		return resp, nil
	}

	s.onOutcome(OutcomeCreated)
	log.Info("issue published",
		zap.String("issue_id", result.IssueID.String()),
		zap.Int("deliveries_enqueued", result.DeliveriesEnqueued),
	)
	return resp, nil
}

// GetIssueReport returns an issue with the per-status counts of its tasks.
func (s *PublishService) GetIssueReport(ctx context.Context, id uuid.UUID) (*domain.IssueReport, error) {
	return s.issues.GetIssueReport(ctx, id)
}

func createdResponse(result domain.PublishResult) (*domain.StoredResponse, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode publish result: %w", err)
	}
	return &domain.StoredResponse{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}, nil
}
