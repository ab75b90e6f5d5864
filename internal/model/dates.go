package model

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used for every date field.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as an ISO date using t's own calendar day.
func FormatDate(t time.Time) string {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(DateLayout)
}

// AddDays shifts an ISO date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// PlanDate returns the date of plan day dayID for a plan starting at start.
// Day 1 is the start date itself.
func PlanDate(start string, dayID int) (string, error) {
	if dayID < 1 {
		return "", fmt.Errorf("day %d is not a plan day", dayID)
	}
	return AddDays(start, dayID-1)
}

// DaysBetween returns the number of whole days from a to b (b - a).
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// DayIndexFor returns the 1-based plan day that date falls on, clamped to
// [1, totalDays].
func DayIndexFor(start, date string, totalDays int) int {
	diff, err := DaysBetween(start, date)
	if err != nil {
		return 1
	}
	idx := diff + 1
	if idx < 1 {
		return 1
	}
	if totalDays > 0 && idx > totalDays {
		return totalDays
	}
	return idx
}
