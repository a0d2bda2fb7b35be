package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a job on a fixed cadence from a single goroutine, so cycles
// can never overlap. The first run happens immediately on activation; a job
// that outlasts the interval is followed by the next run as soon as it
// returns (the pending tick fires at once), never concurrently with it.
type Scheduler struct {
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a Scheduler with the given polling interval.
func NewScheduler(interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks, invoking job once immediately and then once per interval, until
// ctx is cancelled or job returns a non-nil error. The interval sleep is the
// primary cancellation point; a cancellation that lands mid-cycle is observed
// by the job through ctx and logged here rather than swallowed.
func (s *Scheduler) Run(ctx context.Context, job func(context.Context) error) error {
	if err := s.runJob(ctx, job); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runJob(ctx, job); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job func(context.Context) error) error {
	err := job(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn().Msg("cycle interrupted by shutdown")
	}
	return err
}
