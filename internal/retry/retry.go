// Package retry provides a small bounded retry policy, used for
// re-polling payment status instead of an inline sleep loop.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded, fixed-delay retry schedule.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// ErrRetry is returned by the callback to request another attempt.
type retryError struct{}

func (retryError) Error() string { return "retry" }

// Again signals that the operation has not resolved yet and should be
// attempted again after the policy delay.
var Again error = retryError{}

// Do runs fn up to MaxAttempts times, sleeping Delay between attempts.
// fn returning nil stops with success; returning Again schedules the
// next attempt; any other error stops immediately and is returned.
// When attempts are exhausted while fn still wants another try, Do
// returns Again so the caller can distinguish "gave up" from a real
// failure. Context cancellation interrupts the sleep.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if err != Again {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return Again
}
