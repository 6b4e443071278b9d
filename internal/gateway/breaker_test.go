package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/gateway"
)

type stubClient struct {
	calls int
	err   error
}

func (s *stubClient) Send(context.Context, gateway.Email) error {
	s.calls++
	return s.err
}

func TestBreaker_OpensAfterTransientFailures(t *testing.T) {
	stub := &stubClient{err: gateway.Transient(errors.New("503"))}
	b := gateway.NewBreaker(stub, 3, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, b.Send(ctx, testEmail))
	}
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, "open", b.State())

	err := b.Send(ctx, testEmail)
	require.Error(t, err)
	assert.Equal(t, 3, stub.calls, "open breaker must not reach the gateway")
	assert.Equal(t, gateway.KindTransient, gateway.KindOf(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestBreaker_GatewayFailureIsNotUnavailable(t *testing.T) {
	stub := &stubClient{err: gateway.Transient(errors.New("503"))}
	b := gateway.NewBreaker(stub, 3, time.Minute, zap.NewNop())

	err := b.Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.NotErrorIs(t, err, gateway.ErrUnavailable)
}

func TestBreaker_PermanentFailuresDoNotTrip(t *testing.T) {
	stub := &stubClient{err: gateway.Permanent(errors.New("bad recipient"))}
	b := gateway.NewBreaker(stub, 2, time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		err := b.Send(context.Background(), testEmail)
		assert.Equal(t, gateway.KindPermanent, gateway.KindOf(err))
	}
	assert.Equal(t, 5, stub.calls)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_PassesSuccess(t *testing.T) {
	stub := &stubClient{}
	b := gateway.NewBreaker(stub, 1, time.Minute, zap.NewNop())
	assert.NoError(t, b.Send(context.Background(), testEmail))
}
