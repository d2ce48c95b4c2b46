// Package calendar provides trading-day awareness: weekend and holiday
// handling, next-trading-day arithmetic, and the latest finished session
// cutoff used to bound fetch windows.
package calendar

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"kabuto/internal/domain"
)

const dateLayout = "2006-01-02"

// Calendar models an exchange trading calendar. Trading days are weekdays
// that are not in the holiday set. The zero set of holidays is valid and
// yields a plain Monday-to-Friday calendar.
type Calendar struct {
	holidays map[string]struct{}
	loc      *time.Location
	closeHr  int
	closeMin int
}

// New creates a Calendar for the exchange timezone loc with the given
// session close (local time) and holiday dates.
func New(loc *time.Location, sessionClose string, holidays []time.Time) (*Calendar, error) {
	hr, min, err := parseClock(sessionClose)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[domain.Day(h).Format(dateLayout)] = struct{}{}
	}
	return &Calendar{holidays: set, loc: loc, closeHr: hr, closeMin: min}, nil
}

// LoadHolidays reads a holidays file with one YYYY-MM-DD date per line.
// Blank lines and lines starting with '#' are skipped. A missing path
// yields an empty holiday list.
func LoadHolidays(path string) ([]time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []time.Time
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := time.Parse(dateLayout, line)
		if err != nil {
			return nil, fmt.Errorf("parsing holiday %q: %w", line, err)
		}
		out = append(out, t)
	}
	return out, sc.Err()
}

// IsTradingDay reports whether the given date (truncated to a day) is a
// trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	d := domain.Day(t)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[d.Format(dateLayout)]
	return !holiday
}

// NextTradingDay returns the first trading day strictly after t.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := domain.Day(t).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns the last trading day strictly before t.
func (c *Calendar) PrevTradingDay(t time.Time) time.Time {
	d := domain.Day(t).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// HasTradingDays reports whether the inclusive range [start, end] contains
// at least one trading day.
func (c *Calendar) HasTradingDays(start, end time.Time) bool {
	for d := domain.Day(start); !d.After(domain.Day(end)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			return true
		}
	}
	return false
}

// LatestFinishedTradingDay returns the most recent trading day whose
// session has completed as of now. Today only qualifies once the local
// session close has passed; otherwise the previous trading day is
// returned. Fetch windows must never extend past this date, so a run
// never requests today's still-incomplete session.
func (c *Calendar) LatestFinishedTradingDay(now time.Time) time.Time {
	local := now.In(c.loc)
	// The exchange-local date, kept as a UTC midnight like all bar dates.
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	if c.IsTradingDay(today) {
		cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.closeHr, c.closeMin, 0, 0, c.loc)
		if local.After(cutoff) {
			return today
		}
	}
	return c.PrevTradingDay(today)
}

func parseClock(s string) (hr, min int, err error) {
	if _, err := time.Parse("15:04", s); err != nil {
		return 0, 0, fmt.Errorf("parsing session close %q: %w", s, err)
	}
	fmt.Sscanf(s, "%d:%d", &hr, &min)
	return hr, min, nil
}
