package types

import (
	"time"
)

// Dates handled by the invoicing core are calendar dates. They are carried as time.Time
// values at midnight UTC so that equality and ordering are plain time comparisons.

// NewDate returns the calendar date y-m-d at midnight UTC
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ToDate truncates an instant to its calendar date as observed in loc.
// A nil location means UTC.
func ToDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

// DaysBetween returns the number of whole days from start to end (negative when end is before start)
func DaysBetween(start, end time.Time) int {
	s := ToDate(start, start.Location())
	e := ToDate(end, end.Location())
	return int(e.Sub(s).Hours() / 24)
}

// MonthsBetween returns the number of whole months from start to end.
// A month is complete when adding it to start (clamped to the month end) does not pass end,
// so 2024-01-31 -> 2024-02-29 is one month.
func MonthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return -MonthsBetween(end, start)
	}
	sy, sm, _ := start.Date()
	ey, em, _ := end.Date()
	months := (ey-sy)*12 + int(em-sm)
	for months > 0 && AddClampedDate(start, 0, months, 0).After(end) {
		months--
	}
	return months
}

// LastDayOfMonth returns the number of days in the month of t
func LastDayOfMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateWithDay returns the date in the month of t whose day is day, clamped to the month end
func DateWithDay(t time.Time, day int) time.Time {
	y, m, _ := t.Date()
	if last := LastDayOfMonth(t); day > last {
		day = last
	}
	return NewDate(y, m, day)
}

// AddMonthsAnchored shifts t by months and re-applies the anchor day, so that a billing
// cycle day of 31 yields Jan 31, Feb 29, Mar 31 rather than drifting to the 29th.
func AddMonthsAnchored(t time.Time, months int, anchorDay int) time.Time {
	y, m, _ := t.Date()
	first := NewDate(y, m, 1).AddDate(0, months, 0)
	return DateWithDay(first, anchorDay)
}

// AddClampedDate adds years, months and days to t and clamps the day to the last
// valid day of the resulting month.
func AddClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)

	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	// Find the last valid day of the new month
	firstOfNextMonth := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNextMonth.Add(-24 * time.Hour).Day()

	newD := d + days
	if newD > lastDay {
		newD = lastDay
	}

	return time.Date(newY, newM, newD, h, min, sec, t.Nanosecond(), t.Location())
}

// MaxDate returns the later of a and b
func MaxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinDate returns the earlier of a and b
func MinDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// FormatDate renders a calendar date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return ToDate(t, time.UTC), nil
}
