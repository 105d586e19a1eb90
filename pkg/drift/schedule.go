package drift

import (
	"context"
	"fmt"
	"strings"
	"time"

	cron "github.com/netresearch/go-cron"
	"github.com/rs/zerolog"
)

var cronParser = cron.MustNewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule describes when drift scans run. Exactly one of Interval or Cron
// must be set.
type Schedule struct {
	// Interval runs scans on a fixed period.
	Interval time.Duration

	// Cron runs scans on a five-field cron expression.
	Cron string

	// Timezone applies to the cron expression; defaults to UTC. Ignored when
	// the expression carries its own CRON_TZ=/TZ= prefix.
	Timezone string
}

// Validate checks the schedule is usable.
func (s Schedule) Validate() error {
	if s.Interval > 0 && s.Cron != "" {
		return fmt.Errorf("schedule has both interval and cron expression")
	}
	if s.Interval <= 0 && s.Cron == "" {
		return fmt.Errorf("schedule needs an interval or a cron expression")
	}
	if s.Cron != "" {
		if _, err := cronParser.Parse(buildCronSpec(s.Cron, s.Timezone)); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
		}
	}
	return nil
}

// next returns the next scan time strictly after the given time.
func (s Schedule) next(after time.Time) (time.Time, error) {
	if s.Interval > 0 {
		return after.Add(s.Interval), nil
	}

	schedule, err := cronParser.Parse(buildCronSpec(s.Cron, s.Timezone))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", s.Cron, err)
	}
	return schedule.Next(after), nil
}

// buildCronSpec prepends a CRON_TZ prefix unless the spec brings its own.
func buildCronSpec(spec, tz string) string {
	hasTZPrefix := strings.HasPrefix(spec, "CRON_TZ=") ||
		strings.HasPrefix(spec, "TZ=")
	if hasTZPrefix {
		return spec
	}
	if tz != "" {
		return "CRON_TZ=" + tz + " " + spec
	}
	return "CRON_TZ=UTC " + spec
}

// Scheduler runs drift scans on a schedule until its context is cancelled.
type Scheduler struct {
	detector *Detector
	schedule Schedule
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler for the detector.
func NewScheduler(detector *Detector, schedule Schedule, logger zerolog.Logger) (*Scheduler, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		detector: detector,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Run blocks, scanning on every schedule tick, until ctx is cancelled.
// Scan failures are logged and do not stop the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next, err := s.schedule.next(time.Now())
		if err != nil {
			return err
		}

		s.logger.Debug().Time("next_scan", next).Msg("drift scan scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.detector.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("drift scan failed")
		}
	}
}
