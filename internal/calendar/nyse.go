package calendar

import (
	"sync"
	"time"
)

// NYSE computes full-day New York Stock Exchange closures by rule. Early
// closes are trading days. Unscheduled closures (national days of mourning,
// weather) must be supplied with WithClosures.
type NYSE struct {
	mu       sync.Mutex
	years    map[int]map[civil]string
	closures map[civil]string
}

// NYSEOption customises the calendar.
type NYSEOption func(*NYSE)

// WithClosures adds ad-hoc closed dates.
func WithClosures(days ...time.Time) NYSEOption {
	return func(n *NYSE) {
		for _, d := range days {
			n.closures[civilOf(d)] = "Special closure"
		}
	}
}

// NewNYSE creates the rule-based exchange calendar.
func NewNYSE(opts ...NYSEOption) *NYSE {
	n := &NYSE{
		years:    make(map[int]map[civil]string),
		closures: make(map[civil]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsTradingDay implements Calendar.
func (n *NYSE) IsTradingDay(day time.Time) bool {
	if IsWeekend(day) {
		return false
	}
	_, closed := n.Holiday(day)
	return !closed
}

// ValidDays implements Calendar.
func (n *NYSE) ValidDays(start, end time.Time) []time.Time {
	return validDays(n, start, end)
}

// Holiday returns the name of the closure on day, if any.
func (n *NYSE) Holiday(day time.Time) (string, bool) {
	c := civilOf(day)
	if name, ok := n.closures[c]; ok {
		return name, true
	}
	name, ok := n.holidays(c.y)[c]
	return name, ok
}

func (n *NYSE) holidays(year int) map[civil]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.years[year]; ok {
		return h
	}
	h := nyseHolidays(year)
	n.years[year] = h
	return h
}

func nyseHolidays(year int) map[civil]string {
	h := make(map[civil]string, 10)
	add := func(t time.Time, name string) { h[civilOf(t)] = name }

	// A Saturday New Year's Day is not made up on Dec 31.
	if ny := ymd(year, time.January, 1); ny.Weekday() != time.Saturday {
		add(observed(ny), "New Year's Day")
	}
	add(nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day")
	add(nthWeekday(year, time.February, time.Monday, 3), "Washington's Birthday")
	add(easter(year).AddDate(0, 0, -2), "Good Friday")
	add(lastWeekday(year, time.May, time.Monday), "Memorial Day")
	if year >= 2022 {
		add(observed(ymd(year, time.June, 19)), "Juneteenth")
	}
	add(observed(ymd(year, time.July, 4)), "Independence Day")
	add(nthWeekday(year, time.September, time.Monday, 1), "Labor Day")
	add(nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day")
	add(observed(ymd(year, time.December, 25)), "Christmas Day")
	return h
}

func ymd(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// observed moves Saturday holidays to Friday and Sunday holidays to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	first := ymd(y, m, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	last := ymd(y, m+1, 0)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easter returns Western Easter Sunday (anonymous Gregorian algorithm).
func easter(y int) time.Time {
	a := y % 19
	b, c := y/100, y%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return ymd(y, time.Month(month), day)
}
