package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

// PgStore implements every repository interface on a single pgx pool.
type PgStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgStore returns a PostgreSQL-backed store. lockTimeout bounds how long a
// publish transaction waits for a row lock held by a concurrent request with
// the same idempotency key; zero means wait indefinitely.
func NewPgStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	return &PgStore{pool: pool, lockTimeout: lockTimeout}
}

var (
	_ PublishRepository  = (*PgStore)(nil)
	_ DeliveryRepository = (*PgStore)(nil)
	_ IssueRepository    = (*PgStore)(nil)
	_ UserRepository     = (*PgStore)(nil)
)

// Ping checks that the database is reachable.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ---- publish path ----

func (s *PgStore) WithinPublishTx(ctx context.Context, fn func(tx PublishTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if s.lockTimeout > 0 {
		// set_config(..., true) is the parameterisable form of SET LOCAL.
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&pgPublishTx{tx: tx}); err != nil {
		return mapTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("commit publish: %w", err))
	}
	return nil
}

// mapTxError turns the errors a same-key race produces into ErrConflict:
// a lock wait that exceeded lock_timeout, or a serialization failure.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.LockNotAvailable, pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w (%s)", domain.ErrConflict, pgErr.Code)
		}
	}
	return err
}

type pgPublishTx struct {
	tx pgx.Tx
}

func (t *pgPublishTx) InsertIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING`, userID, key)
	if err != nil {
		return false, fmt.Errorf("insert idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgPublishTx) GetIdempotencyRecord(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	var (
		rec        = domain.IdempotencyRecord{UserID: userID, Key: key}
		statusCode *int
		headers    []byte
		body       []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body, issue_id, created_at
		FROM idempotency
		WHERE user_id = $1 AND idempotency_key = $2`, userID, key).
		Scan(&statusCode, &headers, &body, &rec.IssueID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	if statusCode != nil {
		resp := &domain.StoredResponse{StatusCode: *statusCode, Body: body}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &resp.Headers); err != nil {
				return nil, fmt.Errorf("decode stored headers: %w", err)
			}
		}
		rec.Response = resp
	}
	return &rec, nil
}

func (t *pgPublishTx) SaveIdempotencyResponse(
	ctx context.Context,
	userID uuid.UUID,
	key string,
	resp *domain.StoredResponse,
	issueID *uuid.UUID,
) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE idempotency
		SET response_status_code = $3, response_headers = $4, response_body = $5, issue_id = $6
		WHERE user_id = $1 AND idempotency_key = $2 AND response_status_code IS NULL`,
		userID, key, resp.StatusCode, headers, resp.Body, issueID,
	)
	if err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("save idempotency response: %w", domain.ErrNotFound)
	}
	return nil
}

func (t *pgPublishTx) InsertIssue(ctx context.Context, issue *domain.Issue) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO newsletter_issues (id, title, html_content, text_content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		issue.ID, issue.Title, issue.HTMLContent, issue.TextContent, issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (t *pgPublishTx) EnqueueDeliveries(ctx context.Context, issueID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_tasks (issue_id, subscriber_id, status, retry_count)
		SELECT $1, id, 'pending', 0
		FROM subscriptions
		WHERE status = 'confirmed'`, issueID)
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- delivery worker ----

func (s *PgStore) ClaimNext(ctx context.Context, lease time.Duration) (*domain.DeliveryTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var t domain.DeliveryTask
	err = tx.QueryRow(ctx, `
		SELECT issue_id, subscriber_id, status, retry_count, last_attempt, last_error
		FROM delivery_tasks
		WHERE status = 'pending'
		  AND (last_attempt IS NULL OR last_attempt <= NOW())
		ORDER BY last_attempt ASC NULLS FIRST
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).
		Scan(&t.IssueID, &t.SubscriberID, &t.Status, &t.RetryCount, &t.LastAttempt, &t.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable task: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE delivery_tasks
		SET last_attempt = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE issue_id = $1 AND subscriber_id = $2
		RETURNING last_attempt`,
		t.IssueID, t.SubscriberID, lease.Milliseconds()).
		Scan(&t.LastAttempt)
	if err != nil {
		return nil, fmt.Errorf("mark task in flight: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &t, nil
}

func (s *PgStore) LoadDelivery(ctx context.Context, key domain.TaskKey) (*domain.Delivery, error) {
	d := domain.Delivery{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT t.retry_count, s.email, i.title, i.html_content, i.text_content
		FROM delivery_tasks t
		JOIN subscriptions s ON s.id = t.subscriber_id
		JOIN newsletter_issues i ON i.id = t.issue_id
		WHERE t.issue_id = $1 AND t.subscriber_id = $2`,
		key.IssueID, key.SubscriberID).
		Scan(&d.RetryCount, &d.Email, &d.Title, &d.HTMLContent, &d.TextContent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery: %w", err)
	}
	return &d, nil
}

func (s *PgStore) MarkSucceeded(ctx context.Context, key domain.TaskKey) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_tasks
		SET status = 'succeeded', last_error = NULL
		WHERE issue_id = $1 AND subscriber_id = $2 AND status = 'pending'`,
		key.IssueID, key.SubscriberID)
	return pendingRowUpdated(tag, err, "mark succeeded")
}

func (s *PgStore) ScheduleRetry(ctx context.Context, key domain.TaskKey, retryCount int, delay time.Duration, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_tasks
		SET retry_count = $3,
		    last_attempt = NOW() + $4 * INTERVAL '1 millisecond',
		    last_error = $5
		WHERE issue_id = $1 AND subscriber_id = $2 AND status = 'pending'`,
		key.IssueID, key.SubscriberID, retryCount, delay.Milliseconds(), errMsg)
	return pendingRowUpdated(tag, err, "schedule retry")
}

func (s *PgStore) MarkFailed(ctx context.Context, key domain.TaskKey, retryCount int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_tasks
		SET status = 'failed', retry_count = $3, last_error = $4
		WHERE issue_id = $1 AND subscriber_id = $2 AND status = 'pending'`,
		key.IssueID, key.SubscriberID, retryCount, errMsg)
	return pendingRowUpdated(tag, err, "mark failed")
}

func pendingRowUpdated(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (s *PgStore) CountByStatus(ctx context.Context) (domain.DeliveryCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM delivery_tasks GROUP BY status`)
	if err != nil {
		return domain.DeliveryCounts{}, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()
	return scanCounts(rows)
}

// ---- inspection ----

func (s *PgStore) GetIssueReport(ctx context.Context, id uuid.UUID) (*domain.IssueReport, error) {
	var issue domain.Issue
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, html_content, text_content, created_at
		FROM newsletter_issues WHERE id = $1`, id).
		Scan(&issue.ID, &issue.Title, &issue.HTMLContent, &issue.TextContent, &issue.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM delivery_tasks
		WHERE issue_id = $1 GROUP BY status`, id)
	if err != nil {
		return nil, fmt.Errorf("count issue deliveries: %w", err)
	}
	defer rows.Close()

	counts, err := scanCounts(rows)
	if err != nil {
		return nil, err
	}
	return &domain.IssueReport{Issue: &issue, Deliveries: counts}, nil
}

func (s *PgStore) GetCredentials(ctx context.Context, username string) (uuid.UUID, string, error) {
	var (
		id   uuid.UUID
		hash string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, password_hash FROM users WHERE username = $1`, username).
		Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, "", domain.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("get credentials: %w", err)
	}
	return id, hash, nil
}

// ---- helpers ----

func scanCounts(rows pgx.Rows) (domain.DeliveryCounts, error) {
	var c domain.DeliveryCounts
	for rows.Next() {
		var (
			status domain.TaskStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.DeliveryCounts{}, err
		}
		addCount(&c, status, n)
	}
	return c, rows.Err()
}

func addCount(c *domain.DeliveryCounts, status domain.TaskStatus, n int) {
	switch status {
	case domain.TaskPending:
		c.Pending += n
	case domain.TaskSucceeded:
		c.Succeeded += n
	case domain.TaskFailed:
		c.Failed += n
	}
	c.Total += n
}
