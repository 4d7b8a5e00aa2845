package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one poll cycle. The cycle stamp marks the start of the
// interval slot the cycle belongs to.
type CycleFunc func(ctx context.Context, cycle time.Time) error

// Options tune cycle pacing.
type Options struct {
	Interval     time.Duration
	AlignToClock bool
	StartupDelay time.Duration
}

// Scheduler drives poll cycles on a fixed interval. Cycles run inline,
// so a slow cycle delays the next one; two cycles never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled, invoking cycle once per interval.
// Cycle errors are logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextCycle(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			// An overrunning cycle pushed us past the slot; skip to the
			// next future one rather than firing a burst of catch-ups.
			next = s.nextCycle(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		stamp := s.cycleStamp(next)
		s.logger.Info().Time("cycle", stamp).Msg("starting poll cycle")

		if err := cycle(ctx, stamp); err != nil {
			s.logger.Error().Err(err).Time("cycle", stamp).Msg("poll cycle failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextCycle(now time.Time) time.Time {
	if !s.opts.AlignToClock {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) cycleStamp(t time.Time) time.Time {
	if !s.opts.AlignToClock {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
