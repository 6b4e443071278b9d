package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
	"github.com/notifyhub/newsletter-delivery/internal/service"
)

type outcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *outcomes) record(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome)
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

func newService() (*service.PublishService, *repository.MockStore, *outcomes) {
	store := repository.NewMockStore()
	out := &outcomes{}
	svc := service.NewPublishService(store, store, zap.NewNop(), out.record)
	return svc, store, out
}

var validReq = domain.PublishRequest{
	Title:       "Issue #1",
	HTMLContent: "<p>Hello subscribers</p>",
	TextContent: "Hello subscribers",
}

func decodeResult(t *testing.T, resp *domain.StoredResponse) domain.PublishResult {
	t.Helper()
	var res domain.PublishResult
	require.NoError(t, json.Unmarshal(resp.Body, &res))
	return res
}

func seedSubscribers(store *repository.MockStore) {
	store.AddSubscriber("a@example.com", domain.SubscriberConfirmed)
	store.AddSubscriber("b@example.com", domain.SubscriberConfirmed)
	store.AddSubscriber("c@example.com", domain.SubscriberConfirmed)
	store.AddSubscriber("d@example.com", domain.SubscriberPendingConfirmation)
}

func TestPublishService_FansOutToConfirmedSubscribers(t *testing.T) {
	svc, store, out := newService()
	seedSubscribers(store)
	user := uuid.New()

	resp, err := svc.Publish(context.Background(), user, "k1", validReq)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	res := decodeResult(t, resp)
	assert.Equal(t, 3, res.DeliveriesEnqueued)
	assert.Equal(t, validReq.Title, res.Title)

	tasks := store.Tasks()
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, res.IssueID, task.IssueID)
		assert.Equal(t, domain.TaskPending, task.Status)
		assert.Zero(t, task.RetryCount)
		assert.Nil(t, task.LastAttempt)
	}

	rec, ok := store.Record(user, "k1")
	require.True(t, ok)
	require.NotNil(t, rec.Response)
	require.NotNil(t, rec.IssueID)
	assert.Equal(t, res.IssueID, *rec.IssueID)
	assert.Equal(t, []string{service.OutcomeCreated}, out.list())
}

func TestPublishService_ReplayReturnsStoredResponse(t *testing.T) {
	svc, store, out := newService()
	seedSubscribers(store)
	user := uuid.New()
	ctx := context.Background()

	first, err := svc.Publish(ctx, user, "k1", validReq)
	require.NoError(t, err)

	second, err := svc.Publish(ctx, user, "k1", validReq)
	require.NoError(t, err)

	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, first.Body, second.Body)
	assert.Len(t, store.Tasks(), 3)
	assert.Len(t, store.Issues(), 1)
	assert.Equal(t, []string{service.OutcomeCreated, service.OutcomeReplayed}, out.list())
}

func TestPublishService_ReplayIgnoresPayload(t *testing.T) {
	svc, store, _ := newService()
	seedSubscribers(store)
	user := uuid.New()
	ctx := context.Background()

	first, err := svc.Publish(ctx, user, "k1", validReq)
	require.NoError(t, err)

	changed := validReq
	changed.Title = "A completely different issue"
	second, err := svc.Publish(ctx, user, "k1", changed)
	require.NoError(t, err)

	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, validReq.Title, decodeResult(t, second).Title)
	assert.Len(t, store.Issues(), 1)
}

func TestPublishService_KeysAreScopedPerUser(t *testing.T) {
	svc, store, _ := newService()
	seedSubscribers(store)
	ctx := context.Background()

	a, err := svc.Publish(ctx, uuid.New(), "k1", validReq)
	require.NoError(t, err)
	b, err := svc.Publish(ctx, uuid.New(), "k1", validReq)
	require.NoError(t, err)

	assert.NotEqual(t, decodeResult(t, a).IssueID, decodeResult(t, b).IssueID)
	assert.Len(t, store.Issues(), 2)
	assert.Len(t, store.Tasks(), 6)
}

func TestPublishService_ConcurrentSameKey(t *testing.T) {
	svc, store, _ := newService()
	seedSubscribers(store)
	user := uuid.New()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.BeforeCommit = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	type result struct {
		resp *domain.StoredResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := svc.Publish(ctx, user, "k1", validReq)
		done <- result{resp, err}
	}()

	<-entered
	_, err := svc.Publish(ctx, user, "k1", validReq)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, store.Issues(), "nothing may be visible before the first request commits")

	close(release)
	first := <-done
	require.NoError(t, first.err)

	after, err := svc.Publish(ctx, user, "k1", validReq)
	require.NoError(t, err)
	assert.Equal(t, first.resp.Body, after.Body)
	assert.Len(t, store.Issues(), 1)
	assert.Len(t, store.Tasks(), 3)
}

func TestPublishService_NoConfirmedSubscribers(t *testing.T) {
	svc, store, _ := newService()
	store.AddSubscriber("pending@example.com", domain.SubscriberPendingConfirmation)

	resp, err := svc.Publish(context.Background(), uuid.New(), "k1", validReq)
	require.NoError(t, err)

	assert.Equal(t, 0, decodeResult(t, resp).DeliveriesEnqueued)
	assert.Len(t, store.Issues(), 1)
	assert.Empty(t, store.Tasks())
}

func TestPublishService_ValidationBeforeTransaction(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		mutate  func(r *domain.PublishRequest)
		wantErr error
	}{
		{"missing key", "", func(*domain.PublishRequest) {}, domain.ErrMissingIdempotencyKey},
		{"blank title", "k1", func(r *domain.PublishRequest) { r.Title = "   " }, domain.ErrInvalidTitle},
		{"empty html", "k1", func(r *domain.PublishRequest) { r.HTMLContent = "" }, domain.ErrInvalidHTMLContent},
		{"empty text", "k1", func(r *domain.PublishRequest) { r.TextContent = "" }, domain.ErrInvalidTextContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, out := newService()
			seedSubscribers(store)
			user := uuid.New()

			req := validReq
			tc.mutate(&req)
			_, err := svc.Publish(context.Background(), user, tc.key, req)

			require.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, store.Issues())
			_, ok := store.Record(user, tc.key)
			assert.False(t, ok)
			assert.Equal(t, []string{service.OutcomeInvalid}, out.list())
		})
	}
}

func TestPublishService_RollsBackOnFailure(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name   string
		inject func(s *repository.MockStore, err error)
	}{
		{"insert issue", func(s *repository.MockStore, err error) { s.InsertIssueErr = err }},
		{"enqueue deliveries", func(s *repository.MockStore, err error) { s.EnqueueErr = err }},
		{"save response", func(s *repository.MockStore, err error) { s.SaveResponseErr = err }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := newService()
			seedSubscribers(store)
			user := uuid.New()
			ctx := context.Background()

			tc.inject(store, boom)
			_, err := svc.Publish(ctx, user, "k1", validReq)
			require.ErrorIs(t, err, boom)

			assert.Empty(t, store.Issues())
			assert.Empty(t, store.Tasks())
			_, ok := store.Record(user, "k1")
			assert.False(t, ok, "a failed request must not leave its key behind")

			// The key is free again, so a client retry succeeds.
			tc.inject(store, nil)
			resp, err := svc.Publish(ctx, user, "k1", validReq)
			require.NoError(t, err)
			assert.Equal(t, 3, decodeResult(t, resp).DeliveriesEnqueued)
			assert.Len(t, store.Tasks(), 3)
		})
	}
}

func TestPublishService_GetIssueReport(t *testing.T) {
	svc, store, _ := newService()
	seedSubscribers(store)
	ctx := context.Background()

	resp, err := svc.Publish(ctx, uuid.New(), "k1", validReq)
	require.NoError(t, err)
	id := decodeResult(t, resp).IssueID

	report, err := svc.GetIssueReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, validReq.Title, report.Issue.Title)
	assert.Equal(t, domain.DeliveryCounts{Pending: 3, Total: 3}, report.Deliveries)

	_, err = svc.GetIssueReport(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
