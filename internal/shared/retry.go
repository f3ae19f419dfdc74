package shared

import (
	"context"
	"time"
)

// RetryOnContention re-runs fn a bounded number of times when it fails with
// ErrContention, backing off linearly between attempts. Any other error, and
// the final contention error once attempts are exhausted, surface unchanged.
func RetryOnContention(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt >= attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
}
