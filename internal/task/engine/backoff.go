package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Backoff computes jittered exponential retry delays.
// Zero fields take defaults: Base 500ms, Max 15s, Jitter 0.2.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 15 * time.Second
	}
	if b.Jitter <= 0 {
		b.Jitter = 0.2
	}
	return b
}

// Delay returns the wait before retry number attempt (1-based).
// A RetryAfterError in err replaces the exponential step. rng may be nil.
func (b Backoff) Delay(attempt int, err error, rng *rand.Rand) time.Duration {
	b = b.withDefaults()

	var d time.Duration
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = b.Base
		for i := 1; i < attempt && d < b.Max; i++ {
			d *= 2
		}
	}
	if d > b.Max {
		d = b.Max
	}
	if rng != nil && d > 0 {
		r := (rng.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
