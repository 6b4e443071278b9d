package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a single token bucket shared by every delivery worker so the
// combined send rate never exceeds what the email gateway allows.
// Burst equals the rate: no saved-up capacity above the per-second maximum.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a Limiter granting ratePerSec sends per second.
// A non-positive rate disables limiting.
func New(ratePerSec int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)}
}

// Wait blocks until a token is available.
// Each worker calls it before claiming a task, so an empty poll also
// spends a token and the rate bounds claims rather than sends.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}
