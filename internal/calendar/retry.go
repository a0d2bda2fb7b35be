package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const maxAttempts = 4

// transientError marks a provider error as retryable, optionally carrying the
// wait the provider suggested (Retry-After). Errors not marked transient are
// surfaced to the caller on the first attempt; in particular ErrAuth is never
// wrapped as transient.
type transientError struct {
	err        error
	retryAfter time.Duration
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// transient wraps err as retryable.
func transient(err error) error {
	return &transientError{err: err}
}

// transientAfter wraps err as retryable with a provider-suggested wait.
func transientAfter(err error, wait time.Duration) error {
	return &transientError{err: err, retryAfter: wait}
}

// withRetry runs fn up to maxAttempts times, sleeping with exponential
// backoff (or the provider-suggested wait) between transient failures.
// Non-transient errors return immediately. The sleep is interruptible via
// ctx, so a shutdown is not held up by a backoff window.
func withRetry(ctx context.Context, logger zerolog.Logger, op string, fn func() error) error {
	backoff := time.Second

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var tr *transientError
		if !errors.As(err, &tr) {
			return err
		}
		if attempt == maxAttempts {
			return tr.err
		}

		wait := backoff
		if tr.retryAfter > 0 {
			wait = tr.retryAfter
		}
		logger.Warn().
			Err(tr.err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("transient provider error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}
