// Package retry implements bounded retries with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried, such as a 4xx
// response from an upstream service.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do gives up immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn up to maxAttempts times, sleeping between attempts with
// exponentially growing delays. It returns nil on the first success, the
// unwrapped error for a permanent failure, ctx.Err() on cancellation, or the
// last error once attempts are exhausted.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(baseDelay, attempt)):
		}
	}
	return lastErr
}

// backoff returns the delay before the next attempt: baseDelay doubled per
// completed attempt, with up to 25% random jitter in either direction.
func backoff(baseDelay time.Duration, attempt int) time.Duration {
	d := baseDelay << (attempt - 1)
	if d <= 0 {
		return 0
	}
	jitter := int64(d) / 4
	if jitter > 0 {
		d += time.Duration(rand.Int64N(2*jitter+1) - jitter)
	}
	return d
}
