package core

import (
	"testing"
	"time"
)

func TestDayKey(t *testing.T) {
	utc := time.UTC
	ts := time.Date(2026, 3, 10, 23, 30, 0, 0, utc)
	if got := DayKey(ts, utc); got != "2026-03-10" {
		t.Fatalf("DayKey = %q", got)
	}

	// 23:30 UTC is already the next day in Tokyo.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	if got := DayKey(ts, tokyo); got != "2026-03-11" {
		t.Fatalf("DayKey in Tokyo = %q", got)
	}
}

func TestDayBounds(t *testing.T) {
	utc := time.UTC
	ts := time.Date(2026, 3, 10, 15, 45, 12, 0, utc)
	start, end := DayBounds(ts, utc)
	if !start.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, utc)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, utc)) {
		t.Fatalf("end = %v", end)
	}
	if !ts.After(start) || !ts.Before(end) {
		t.Fatal("timestamp should fall inside its own day bounds")
	}
}

func TestDayBoundsCrossesLocalMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	// 02:00 UTC on March 11 is still March 10 in New York.
	ts := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	start, end := DayBounds(ts, ny)
	if start.Day() != 10 || end.Day() != 11 {
		t.Fatalf("bounds = [%v, %v)", start, end)
	}
	if !ts.After(start) || !ts.Before(end) {
		t.Fatal("timestamp should fall inside its local day bounds")
	}
}

func TestSameDay(t *testing.T) {
	utc := time.UTC
	a := time.Date(2026, 3, 10, 0, 0, 1, 0, utc)
	b := time.Date(2026, 3, 10, 23, 59, 59, 0, utc)
	c := time.Date(2026, 3, 11, 0, 0, 0, 0, utc)
	if !SameDay(a, b, utc) {
		t.Fatal("a and b share a day")
	}
	if SameDay(b, c, utc) {
		t.Fatal("b and c do not share a day")
	}
}

func TestIsYesterday(t *testing.T) {
	utc := time.UTC
	ref := time.Date(2026, 3, 11, 9, 0, 0, 0, utc)
	if !IsYesterday(time.Date(2026, 3, 10, 22, 0, 0, 0, utc), ref, utc) {
		t.Fatal("March 10 is yesterday relative to March 11")
	}
	if IsYesterday(time.Date(2026, 3, 9, 22, 0, 0, 0, utc), ref, utc) {
		t.Fatal("March 9 is not yesterday relative to March 11")
	}
	if IsYesterday(ref, ref, utc) {
		t.Fatal("same day is not yesterday")
	}
}
