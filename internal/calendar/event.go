package calendar

import (
	"context"
	"time"
)

// Event is the provider-neutral representation of a calendar appointment.
// Start and End are normalized into the owning provider's configured
// timezone before the event leaves the provider boundary, so fingerprints
// computed from them are comparable across providers.
type Event struct {
	// ProviderID is the opaque identifier assigned by the owning provider.
	// It is only meaningful for Delete calls against that same provider and
	// is never compared across providers.
	ProviderID string

	Subject string
	Body    string

	Start time.Time
	End   time.Time
}

// Source is the read side of a calendar provider.
// Implementations drain all result pages, exclude all-day events, and apply
// their own bounded retry policy before surfacing a FetchError.
type Source interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// Events returns all non-all-day events intersecting [start, end).
	Events(ctx context.Context, start, end time.Time) ([]Event, error)

	// Fingerprint computes the identity value for an event. Pure, no I/O.
	Fingerprint(ev Event) string
}

// Target is a calendar provider that can additionally be written to.
type Target interface {
	Source

	// Create materializes a new event at the provider, keeping the local
	// time semantics of ev.Start and ev.End. An empty Body is omitted
	// rather than sent as an empty description.
	Create(ctx context.Context, ev Event) (Event, error)

	// Delete removes the event addressed by ev.ProviderID. Deleting an
	// event the provider has already removed is a successful no-op.
	Delete(ctx context.Context, ev Event) error
}

// EventMap indexes one provider's window fetch by fingerprint. When two
// distinct events in the same window collide on a fingerprint, the later one
// wins and the other is silently merged away; this mirrors the historical
// behavior and is accepted.
type EventMap map[string]Event

// BuildEventMap fetches a provider's events for the window and indexes them
// by fingerprint.
func BuildEventMap(ctx context.Context, src Source, start, end time.Time) (EventMap, error) {
	events, err := src.Events(ctx, start, end)
	if err != nil {
		return nil, err
	}

	m := make(EventMap, len(events))
	for _, ev := range events {
		m[src.Fingerprint(ev)] = ev
	}
	return m, nil
}
