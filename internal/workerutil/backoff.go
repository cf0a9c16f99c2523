package workerutil

import (
	"context"
	"time"
)

// Backoff produces an exponential delay sequence capped at Max.
// It is not safe for concurrent use; each worker owns its own.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at max.
// Non-positive values fall back to 100ms and 5s.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
	}
	d := b.current
	b.current = nextBackoff(b.current, b.Max)
	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for d or until ctx is done. It reports false if ctx ended first.
// Since Go 1.23 Timer.Stop guarantees no stale send on C, so no drain is needed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles current, capping at maxBackoff. Doubling that
// overflows int64 also returns maxBackoff.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
