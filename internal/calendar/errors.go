package calendar

import (
	"errors"
	"fmt"
	"time"
)

// FetchError reports that a window fetch failed after the provider's retry
// budget was exhausted. It aborts the current reconciliation cycle only.
type FetchError struct {
	Provider string
	Start    time.Time
	End      time.Time
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch events %s..%s: %v",
		e.Provider, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CreateError reports a failed event creation. It does not abort the rest of
// the cycle; the stateless recompute retries the event next cycle.
type CreateError struct {
	Provider string
	Subject  string
	Err      error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("%s: create event %q: %v", e.Provider, e.Subject, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// DeleteError reports a failed event deletion. Like CreateError it is
// confined to the single event.
type DeleteError struct {
	Provider string
	Subject  string
	Err      error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("%s: delete event %q: %v", e.Provider, e.Subject, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// ErrAuth marks credentials as invalid beyond automatic refresh. No further
// provider call can succeed, so it is fatal to the process and is never
// retried.
var ErrAuth = errors.New("authentication failed")

// IsAuthError reports whether err (or anything it wraps) is an ErrAuth.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}
