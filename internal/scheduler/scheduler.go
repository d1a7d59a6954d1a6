package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked at every scheduled fire time.
type TickFunc func(ctx context.Context, fire time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Schedule is a standard five-field cron expression, e.g. "0 18 * * *".
	Schedule string
	// Location evaluates the schedule; nil means UTC.
	Location *time.Location
	// Timeout bounds a single tick; zero disables the bound.
	Timeout time.Duration
	// RunOnStart fires one tick immediately before waiting for the schedule.
	RunOnStart bool
}

// Scheduler runs a job on a cron schedule, one tick at a time.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New parses the schedule and constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Schedule, err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Next returns the first fire time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run blocks, invoking tick at each fire time until ctx is cancelled. A failed
// tick is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunOnStart {
		s.execute(ctx, tick, s.now().In(s.opts.Location))
	}

	for {
		next := s.Next(s.now())
		delay := next.Sub(s.now())
		if delay < 0 {
			delay = 0
		}
		s.logger.Debug().Time("next_run", next).Dur("wait", delay).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(delay):
		}

		s.execute(ctx, tick, next)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, fire time.Time) {
	runCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	s.logger.Info().Time("fire", fire).Msg("executing scheduled run")
	start := s.now()
	if err := tick(runCtx, fire); err != nil {
		s.logger.Error().Err(err).Time("fire", fire).Msg("scheduled run failed")
		return
	}
	s.logger.Info().Time("fire", fire).Dur("took", s.now().Sub(start)).Msg("scheduled run finished")
}
