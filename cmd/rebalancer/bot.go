package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/status"
)

// Cycle is one rebalance run.
type Cycle interface {
	Run(ctx context.Context) Outcome
}

// DayGate decides whether today is a run day.
type DayGate interface {
	IsLastTradingDay(today time.Time) bool
}

// DailyTrigger invokes a callback at the scheduled time each day.
type DailyTrigger interface {
	Run(ctx context.Context, fn func(ctx context.Context, now time.Time)) error
	NextRun(now time.Time) time.Time
}

// Bot ties the daily trigger, the month-end gate and the rebalance cycle.
type Bot struct {
	trigger DailyTrigger
	gate    DayGate
	cycle   Cycle
	tracker *status.Tracker
	logger  logrus.FieldLogger
}

// NewBot creates a bot. tracker may be nil.
func NewBot(trigger DailyTrigger, gate DayGate, cycle Cycle, tracker *status.Tracker, logger logrus.FieldLogger) *Bot {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bot{trigger: trigger, gate: gate, cycle: cycle, tracker: tracker, logger: logger}
}

// Run blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Bot starting main loop...")
	if b.tracker != nil {
		b.tracker.SetNextRun(b.trigger.NextRun(time.Now()))
	}
	return b.trigger.Run(ctx, b.onSchedule)
}

func (b *Bot) onSchedule(ctx context.Context, now time.Time) {
	if b.tracker != nil {
		defer func() { b.tracker.SetNextRun(b.trigger.NextRun(now)) }()
	}

	if !b.gate.IsLastTradingDay(now) {
		b.logger.WithField("date", now.Format("2006-01-02")).Info("Not the last trading day of the month, skipping")
		return
	}
	b.logger.Info("Last trading day of the month, running rebalance")
	b.cycle.Run(ctx)
}
