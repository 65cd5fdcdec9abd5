package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/config"
	"github.com/eddiefleurent/tqqq_rebalancer/internal/scheduler"
)

func TestMarketCalendar_ConfiguredClosures(t *testing.T) {
	cfg := &config.Config{Schedule: config.ScheduleConfig{
		Timezone:      "America/New_York",
		ExtraClosures: []string{"2025-01-09", "2025-01-31"},
	}}
	loc := cfg.Location()
	cal := marketCalendar(cfg)

	assert.False(t, cal.IsTradingDay(time.Date(2025, 1, 9, 12, 0, 0, 0, loc)), "national day of mourning")
	assert.True(t, cal.IsTradingDay(time.Date(2025, 1, 8, 12, 0, 0, 0, loc)))
	assert.False(t, cal.IsTradingDay(time.Date(2025, 12, 25, 12, 0, 0, 0, loc)), "rule holidays still apply")

	gate := scheduler.NewGate(cal, loc)
	assert.False(t, gate.IsLastTradingDay(time.Date(2025, 1, 31, 15, 45, 0, 0, loc)))
	assert.True(t, gate.IsLastTradingDay(time.Date(2025, 1, 30, 15, 45, 0, 0, loc)))
}

func TestMarketCalendar_NoClosures(t *testing.T) {
	cfg := &config.Config{Schedule: config.ScheduleConfig{Timezone: "America/New_York"}}
	loc := cfg.Location()

	assert.True(t, marketCalendar(cfg).IsTradingDay(time.Date(2025, 1, 9, 12, 0, 0, 0, loc)))
}
