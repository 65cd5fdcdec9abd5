// Package scheduler decides when a rebalance run happens.
package scheduler

import (
	"time"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/calendar"
)

// Gate allows runs only on the final trading day of each month.
type Gate struct {
	cal calendar.Calendar
	loc *time.Location
}

// NewGate creates a gate evaluating dates in loc.
func NewGate(cal calendar.Calendar, loc *time.Location) *Gate {
	if cal == nil {
		panic("scheduler.NewGate: calendar must not be nil")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Gate{cal: cal, loc: loc}
}

// IsLastTradingDay reports whether today is a trading day and no later
// trading day remains in its month. It asks the calendar for valid days up to
// and including the first of next month; days past month end are ignored.
func (g *Gate) IsLastTradingDay(today time.Time) bool {
	day := calendar.Date(today.In(g.loc))
	if !g.cal.IsTradingDay(day) {
		return false
	}

	y, m, _ := day.Date()
	nextMonth := time.Date(y, m+1, 1, 0, 0, 0, 0, g.loc)

	var last time.Time
	for _, d := range g.cal.ValidDays(day, nextMonth) {
		if d.Before(nextMonth) {
			last = d
		}
	}
	return !last.IsZero() && last.Equal(day)
}
