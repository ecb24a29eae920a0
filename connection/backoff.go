package connection

import "time"

// BackoffTracker computes capped exponential retry delays for one
// disconnection episode. The counter resets on every successful connection,
// so the ceiling is per-episode, not per-session lifetime.
//
// Not safe for concurrent use; the connection manager only touches it from
// its event loop.
type BackoffTracker struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempts    int
}

// NewBackoffTracker define a BackoffTracker
func NewBackoffTracker(baseDelay, maxDelay time.Duration, maxAttempts int) *BackoffTracker {
	return &BackoffTracker{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		attempts:    0,
	}
}

// NextDelay record one more failure and compute the delay before the next
// retry: min(base * 2^(attempts-1), max). Exhausted indicates the episode
// ceiling was passed and no further retry may be scheduled.
func (b *BackoffTracker) NextDelay() (delay time.Duration, exhausted bool) {
	b.attempts++
	if b.attempts > b.maxAttempts {
		return 0, true
	}
	delay = b.baseDelay << (b.attempts - 1)
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay, false
}

// Reset clear the failure counter on a successful connection
func (b *BackoffTracker) Reset() {
	b.attempts = 0
}

// Attempts report the failure count within the current episode
func (b *BackoffTracker) Attempts() int {
	return b.attempts
}
