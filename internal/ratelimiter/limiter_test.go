package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/newsletter-delivery/internal/ratelimiter"
)

func TestLimiter_BurstThenBlocks(t *testing.T) {
	l := ratelimiter.New(2)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(short), "third token within the same second should not be granted")
}

func TestLimiter_Unlimited(t *testing.T) {
	l := ratelimiter.New(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := ratelimiter.New(1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}
