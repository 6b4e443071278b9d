package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
	"github.com/notifyhub/newsletter-delivery/internal/repository"
)

func seedIssue(t *testing.T, store *repository.MockStore, subscribers int) uuid.UUID {
	t.Helper()
	for i := 0; i < subscribers; i++ {
		store.AddSubscriber(uuid.NewString()+"@example.com", domain.SubscriberConfirmed)
	}
	id := uuid.New()
	err := store.WithinPublishTx(context.Background(), func(tx repository.PublishTx) error {
		if err := tx.InsertIssue(context.Background(), &domain.Issue{ID: id, Title: "t"}); err != nil {
			return err
		}
		_, err := tx.EnqueueDeliveries(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestMockStore_ClaimLeasesTask(t *testing.T) {
	store := repository.NewMockStore()
	seedIssue(t, store, 2)
	ctx := context.Background()

	first, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	second, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), second.Key())

	_, err = store.ClaimNext(ctx, time.Minute)
	assert.ErrorIs(t, err, repository.ErrQueueEmpty)

	store.Advance(time.Minute)
	again, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.Key(), again.Key(), "oldest lease is reclaimed first")
}

func TestMockStore_NeverClaimedBeforeRetried(t *testing.T) {
	store := repository.NewMockStore()
	seedIssue(t, store, 2)
	ctx := context.Background()

	first, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.ScheduleRetry(ctx, first.Key(), 1, 0, "503"))

	next, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), next.Key(), "NULL last_attempt sorts first")
}

func TestMockStore_TerminalStatesAreFinal(t *testing.T) {
	store := repository.NewMockStore()
	seedIssue(t, store, 1)
	ctx := context.Background()

	task, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	key := task.Key()

	require.NoError(t, store.MarkSucceeded(ctx, key))
	assert.ErrorIs(t, store.MarkFailed(ctx, key, 1, "late"), domain.ErrNotFound)
	assert.ErrorIs(t, store.ScheduleRetry(ctx, key, 1, time.Second, "late"), domain.ErrNotFound)
	assert.ErrorIs(t, store.MarkSucceeded(ctx, key), domain.ErrNotFound)

	got, _ := store.Task(key)
	assert.Equal(t, domain.TaskSucceeded, got.Status)
	assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskSucceeded}, store.History(key))
}

func TestMockStore_CountByStatus(t *testing.T) {
	store := repository.NewMockStore()
	seedIssue(t, store, 3)
	ctx := context.Background()

	task, err := store.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, task.Key(), 0, "400"))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCounts{Pending: 2, Failed: 1, Total: 3}, counts)
}
