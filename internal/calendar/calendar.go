// Package calendar answers which days an exchange is open.
//
// Calendars work on civil dates: only the year, month and day of a time.Time
// (in its own location) matter. Callers convert to the exchange timezone first.
package calendar

import "time"

// Calendar is a holiday- and weekend-aware trading-day oracle.
type Calendar interface {
	IsTradingDay(day time.Time) bool
	// ValidDays lists trading days from start to end, both inclusive.
	ValidDays(start, end time.Time) []time.Time
}

// Date truncates t to midnight of its civil date, keeping the location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

type civil struct {
	y int
	m time.Month
	d int
}

func civilOf(t time.Time) civil {
	y, m, d := t.Date()
	return civil{y, m, d}
}

func validDays(c Calendar, start, end time.Time) []time.Time {
	var out []time.Time
	for d := Date(start); !d.After(Date(end)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// Static treats weekends and an explicit holiday list as closed.
type Static struct {
	holidays map[civil]struct{}
}

// NewStatic creates a calendar closed on the given dates.
func NewStatic(holidays ...time.Time) *Static {
	s := &Static{holidays: make(map[civil]struct{}, len(holidays))}
	for _, h := range holidays {
		s.holidays[civilOf(h)] = struct{}{}
	}
	return s
}

// IsTradingDay implements Calendar.
func (s *Static) IsTradingDay(day time.Time) bool {
	if IsWeekend(day) {
		return false
	}
	_, closed := s.holidays[civilOf(day)]
	return !closed
}

// ValidDays implements Calendar.
func (s *Static) ValidDays(start, end time.Time) []time.Time {
	return validDays(s, start, end)
}

var (
	_ Calendar = (*Static)(nil)
	_ Calendar = (*NYSE)(nil)
)
