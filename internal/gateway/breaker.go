package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker wraps a Client with a circuit breaker. Only transient failures
// count against the gateway; a permanent failure is the recipient's fault.
// While open, Send fails fast with a transient error wrapping ErrUnavailable
// so the worker postpones the task without spending one of its retries.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Client, consecutiveFailures int, openDelay time.Duration, logger *zap.Logger) *Breaker {
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	threshold := uint32(consecutiveFailures)

	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "email-gateway",
			MaxRequests: 1,
			Timeout:     openDelay,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || KindOf(err) == KindPermanent
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func (b *Breaker) Send(ctx context.Context, email Email) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, email)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Transient(fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	return err
}

// State reports the breaker state ("closed", "open", "half-open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

var _ Client = (*Breaker)(nil)
