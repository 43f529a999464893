package service

import (
	"context"
	"time"
)

// Backoff is a bounded exponential retry schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts is the number of reconnect attempts after a failure before
	// giving up. Zero retries forever.
	MaxAttempts int
}

// DefaultBackoff returns the schedule used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether failures consecutive failures used up the budget.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures > b.MaxAttempts
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
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
