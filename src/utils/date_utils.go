package utils

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for every stored and transmitted date.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string as a UTC calendar date.
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", dateStr, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Today returns the calendar date of now, truncated to midnight UTC.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyDates lists every date from start to end inclusive. It returns nil when end is before start.
func DailyDates(start, end time.Time) []string {
	start, end = Today(start), Today(end)
	if end.Before(start) {
		return nil
	}
	days := int(end.Sub(start).Hours()/24) + 1
	dates := make([]string, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates
}
