package worker

import (
	"math"
	"time"
)

const maxShift = 62

// Backoff computes the delay before the next attempt of a task that has
// failed transiently retryCount times (retryCount >= 1).
//
// When Schedule is set it is used as-is: retry 1 waits Schedule[0], retry 2
// Schedule[1], and every retry past the end waits the last entry. Otherwise
// the delay is Base * 2^(retryCount-1), capped at Max.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Schedule []time.Duration
}

func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	if len(b.Schedule) > 0 {
		idx := retryCount - 1
		if idx >= len(b.Schedule) {
			idx = len(b.Schedule) - 1
		}
		return b.Schedule[idx]
	}

	d := exponential(b.Base, retryCount-1)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// exponential returns base * 2^attempt, saturating instead of overflowing.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}
