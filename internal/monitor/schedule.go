package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five-field crontab expressions plus @descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed recurrence expression bound to a timezone.
type Schedule struct {
	spec cron.Schedule
	loc  *time.Location
}

// NewSchedule parses a crontab expression and an optional IANA timezone
// name (empty means UTC). It is parsed once at job registration; a parse
// failure leaves the job monitored but unscheduled.
func NewSchedule(expr, timezone string) (*Schedule, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return &Schedule{spec: spec, loc: loc}, nil
}

// Match reports whether the schedule fires during the minute containing t,
// evaluated in the schedule's timezone.
func (s *Schedule) Match(t time.Time) bool {
	minute := t.In(s.loc).Truncate(time.Minute)
	return s.spec.Next(minute.Add(-time.Second)).Equal(minute)
}
