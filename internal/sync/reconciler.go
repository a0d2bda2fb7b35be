package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"calsync/internal/calendar"
)

// Reconciler converges a target calendar onto a source calendar, one
// fetch-diff-apply cycle at a time. It keeps no state between cycles: every
// run re-derives the full diff from both providers, which makes the process
// idempotent and safe to restart at any point.
type Reconciler struct {
	source calendar.Source
	target calendar.Target
	past   time.Duration
	future time.Duration
	logger zerolog.Logger

	// now is the cycle clock; replaced in tests.
	now func() time.Time
}

// NewReconciler creates a Reconciler syncing [now-past, now+future] windows
// from source to target.
func NewReconciler(source calendar.Source, target calendar.Target, past, future time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		source: source,
		target: target,
		past:   past,
		future: future,
		logger: logger.With().Str("component", "reconciler").Logger(),
		now:    time.Now,
	}
}

// Run executes one reconciliation cycle. A failed window fetch on either side
// aborts the cycle before any write is issued. Failed creates and deletes are
// confined to their event: the rest of the diff is still applied and the
// stateless recompute picks the event up again next cycle. Authentication
// failures abort immediately since no further call can succeed.
func (r *Reconciler) Run(ctx context.Context) error {
	now := r.now()
	start, end := now.Add(-r.past), now.Add(r.future)
	r.logger.Debug().Time("start", start).Time("end", end).Msg("reconciliation window")

	sourceMap, targetMap, err := r.fetchBoth(ctx, start, end)
	if err != nil {
		return err
	}

	// targetMap doubles as the working copy: matched entries are consumed,
	// whatever remains afterwards exists only at the target and gets deleted.
	var applyErrs []error
	created, deleted, unchanged := 0, 0, 0

	for fp, ev := range sourceMap {
		if _, ok := targetMap[fp]; ok {
			delete(targetMap, fp)
			unchanged++
			continue
		}
		if _, err := r.target.Create(ctx, ev); err != nil {
			if calendar.IsAuthError(err) {
				return err
			}
			r.logger.Error().Err(err).Str("subject", ev.Subject).Time("start", ev.Start).Msg("create failed")
			applyErrs = append(applyErrs, err)
			continue
		}
		created++
	}

	for _, ev := range targetMap {
		if err := r.target.Delete(ctx, ev); err != nil {
			if calendar.IsAuthError(err) {
				return err
			}
			r.logger.Error().Err(err).Str("subject", ev.Subject).Time("start", ev.Start).Msg("delete failed")
			applyErrs = append(applyErrs, err)
			continue
		}
		deleted++
	}

	r.logger.Info().
		Int("created", created).
		Int("deleted", deleted).
		Int("unchanged", unchanged).
		Msg("cycle complete")
	return errors.Join(applyErrs...)
}

// fetchBoth builds both event maps concurrently. The two fetches touch
// disjoint providers and share no state, so they only join before the diff.
func (r *Reconciler) fetchBoth(ctx context.Context, start, end time.Time) (calendar.EventMap, calendar.EventMap, error) {
	type fetch struct {
		events calendar.EventMap
		err    error
	}

	sourceCh := make(chan fetch, 1)
	targetCh := make(chan fetch, 1)
	go func() {
		events, err := calendar.BuildEventMap(ctx, r.source, start, end)
		sourceCh <- fetch{events, err}
	}()
	go func() {
		events, err := calendar.BuildEventMap(ctx, r.target, start, end)
		targetCh <- fetch{events, err}
	}()

	source, target := <-sourceCh, <-targetCh
	if source.err != nil {
		return nil, nil, source.err
	}
	if target.err != nil {
		return nil, nil, target.err
	}
	return source.events, target.events, nil
}
