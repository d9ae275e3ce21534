package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed job schedule: either a one-shot RFC3339 instant or a
// recurring cron / @every spec.
type Schedule struct {
	OneShot bool
	At      time.Time     // set when OneShot
	Spec    cron.Schedule // set when recurring
	Raw     string
}

// ParseSchedule accepts an RFC3339 timestamp (one-shot) or a cron expression
// (recurring, including @every and @daily style descriptors).
func ParseSchedule(raw string) (*Schedule, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}

	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return &Schedule{OneShot: true, At: at, Raw: raw}, nil
	}

	spec, err := cronParser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
	}
	return &Schedule{Spec: spec, Raw: raw}, nil
}

// NextFireTime returns when the job should fire next, relative to now.
// One-shot schedules return their instant even when it is already past, so
// a late registration still fires once instead of never.
func (s *Schedule) NextFireTime(now time.Time) time.Time {
	if s.OneShot {
		return s.At
	}
	return s.Spec.Next(now)
}
