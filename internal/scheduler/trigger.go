package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock abstracts wall time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the trigger needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// RealClock is the system clock.
var RealClock Clock = realClock{}

// TimeOfDay is a wall-clock HH:MM.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns this time of day on now's date in loc.
func (t TimeOfDay) On(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// Trigger calls a function once a day at a fixed local time.
type Trigger struct {
	at       TimeOfDay
	loc      *time.Location
	interval time.Duration
	clock    Clock
	logger   logrus.FieldLogger
	lastRun  string
}

// NewTrigger creates a daily trigger polled every interval.
func NewTrigger(at TimeOfDay, loc *time.Location, interval time.Duration, clock Clock,
	logger logrus.FieldLogger) *Trigger {
	if loc == nil {
		loc = time.Local
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = RealClock
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trigger{at: at, loc: loc, interval: interval, clock: clock, logger: logger}
}

// NextRun returns the next scheduled instant strictly after now.
func (t *Trigger) NextRun(now time.Time) time.Time {
	next := t.at.On(now, t.loc)
	if !next.After(now) {
		y, m, d := now.In(t.loc).Date()
		next = time.Date(y, m, d+1, t.at.Hour, t.at.Minute, 0, 0, t.loc)
	}
	return next
}

// Run polls until ctx is done. fn fires when a poll observes the scheduled
// time being crossed, at most once per local date, and runs to completion
// before the next poll is considered. A run time already passed at start-up
// waits for the next day.
func (t *Trigger) Run(ctx context.Context, fn func(ctx context.Context, now time.Time)) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	prev := t.clock.Now()
	t.logger.WithField("next_run", t.NextRun(prev).Format(time.RFC3339)).Info("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C():
			if t.due(prev, now) {
				t.lastRun = now.In(t.loc).Format("2006-01-02")
				fn(ctx, now)
				t.logger.WithField("next_run", t.NextRun(now).Format(time.RFC3339)).Info("Waiting for next run")
			}
			prev = now
		}
	}
}

func (t *Trigger) due(prev, now time.Time) bool {
	target := t.at.On(now, t.loc)
	if now.Before(target) || !prev.Before(target) {
		return false
	}
	return now.In(t.loc).Format("2006-01-02") != t.lastRun
}
