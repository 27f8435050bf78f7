package core

import "time"

// Calendar-day helpers. All daily-limit counting, streak derivation, and
// daily-scoped badge keys use a single fixed reference location so that a
// "day" means the same thing on every engine instance.

const dayKeyLayout = "2006-01-02"

// DayKey formats t as a calendar-day key in the reference location.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayKeyLayout)
}

// DayBounds returns the [start, end) window of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DayKey(a, loc) == DayKey(b, loc)
}

// IsYesterday reports whether t falls on the calendar day before ref in loc.
func IsYesterday(t, ref time.Time, loc *time.Location) bool {
	return DayKey(t, loc) == DayKey(ref.AddDate(0, 0, -1), loc)
}
