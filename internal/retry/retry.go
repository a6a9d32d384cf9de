// Package retry implements exponential backoff with jitter for the
// transient IO errors spec.md §7 asks be retried (export-style temp-file
// rename contention, in particular on Windows).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures a backoff schedule: delay = initialDelay * 2^attempt,
// capped at maxDelay, with up to ±25% jitter.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Default mirrors a conservative retry budget: 10ms initial, 1s cap, up
// to 5 retries after the first call (6 calls in all).
func Default() Policy {
	return Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 5}
}

// Do runs fn, retrying while shouldRetry(err) is true, until it succeeds,
// ctx is cancelled, or attempts are exhausted.
func (p Policy) Do(ctx context.Context, shouldRetry func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}

		delay := p.delay(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	delay := p.InitialDelay * time.Duration(int64(1)<<uint(attempt))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = p.InitialDelay
	}
	return delay
}
