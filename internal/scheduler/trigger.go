// Package scheduler drives recurring work: cron and interval triggers,
// priority dispatch under a concurrency ceiling, dependency gating,
// retries with exponential backoff, per-job timeouts and resource
// limits, and graceful shutdown.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes fire times for a scheduled job.
type Trigger interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
	fmt.Stringer
}

// cronParser accepts the five classic fields.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// CronTrigger fires on a five-field cron expression evaluated in an
// IANA timezone.
type CronTrigger struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
}

// NewCronTrigger parses expr ("30 3 * * *") against the named zone.
func NewCronTrigger(expr, timezone string) (*CronTrigger, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", timezone, err)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	return &CronTrigger{expr: expr, schedule: schedule, loc: loc}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.loc))
}

func (t *CronTrigger) String() string { return fmt.Sprintf("cron(%s, %s)", t.expr, t.loc) }

// IntervalTrigger fires every fixed period.
type IntervalTrigger struct {
	period time.Duration
}

// NewIntervalTrigger creates a fixed-period trigger; period must be
// positive.
func NewIntervalTrigger(period time.Duration) (*IntervalTrigger, error) {
	if period <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", period)
	}
	return &IntervalTrigger{period: period}, nil
}

func (t *IntervalTrigger) Next(after time.Time) time.Time { return after.Add(t.period) }

func (t *IntervalTrigger) String() string { return fmt.Sprintf("interval(%s)", t.period) }
