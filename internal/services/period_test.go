package services

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekWindowAlwaysMondayToMonday(t *testing.T) {
	// 2025-01-06 is a Monday.
	for d := 0; d < 14; d++ {
		ref := date(2025, time.January, 6).AddDate(0, 0, d)
		start, end := WeekWindow(ref)
		if start.Weekday() != time.Monday {
			t.Fatalf("window for %v starts on %v", ref, start.Weekday())
		}
		if got := end.Sub(start); got != 7*24*time.Hour {
			t.Fatalf("window for %v spans %v", ref, got)
		}
		if ref.Before(start) || !ref.Before(end) {
			t.Fatalf("ref %v outside its own window [%v, %v)", ref, start, end)
		}
	}
}

func TestWeekWindowSundayShiftsBack(t *testing.T) {
	// A Sunday belongs to the week that began six days earlier.
	start, end := WeekWindow(date(2025, time.January, 12))
	if !start.Equal(date(2025, time.January, 6)) {
		t.Fatalf("start = %v, want 2025-01-06", start)
	}
	if !end.Equal(date(2025, time.January, 13)) {
		t.Fatalf("end = %v, want 2025-01-13", end)
	}
}

func TestGetFiscalPeriodYearBoundary(t *testing.T) {
	sep := GetFiscalPeriod(date(2025, time.September, 30))
	if sep.FiscalYear != 2025 || sep.Quarter != 4 {
		t.Fatalf("Sep 30 = FY%d Q%d, want FY2025 Q4", sep.FiscalYear, sep.Quarter)
	}
	oct := GetFiscalPeriod(date(2025, time.October, 1))
	if oct.FiscalYear != 2026 || oct.Quarter != 1 {
		t.Fatalf("Oct 1 = FY%d Q%d, want FY2026 Q1", oct.FiscalYear, oct.Quarter)
	}
}

func TestGetFiscalPeriodQuarters(t *testing.T) {
	cases := []struct {
		month time.Month
		want  int
	}{
		{time.October, 1}, {time.November, 1}, {time.December, 1},
		{time.January, 2}, {time.February, 2}, {time.March, 2},
		{time.April, 3}, {time.May, 3}, {time.June, 3},
		{time.July, 4}, {time.August, 4}, {time.September, 4},
	}
	for _, c := range cases {
		if got := GetFiscalPeriod(date(2025, c.month, 15)).Quarter; got != c.want {
			t.Fatalf("%v: quarter=%d, want %d", c.month, got, c.want)
		}
	}
}

func TestWeekInMonthResetsMonthly(t *testing.T) {
	// June 2025 starts on a Sunday, so its first Monday is June 2.
	cases := []struct {
		day  int
		want int
	}{
		{1, 1}, // before the first Monday
		{2, 1},
		{8, 1},
		{9, 2},
		{16, 3},
		{23, 4},
		{30, 5},
	}
	for _, c := range cases {
		p := GetFiscalPeriod(date(2025, time.June, c.day))
		if p.WeekInMonth != c.want {
			t.Fatalf("June %d: week=%d, want %d", c.day, p.WeekInMonth, c.want)
		}
	}
}

func TestWeekInMonthCapsAtFive(t *testing.T) {
	// December 2025 starts on a Monday; Dec 31 is 4 full weeks past it.
	p := GetFiscalPeriod(date(2025, time.December, 31))
	if p.WeekInMonth != 5 {
		t.Fatalf("Dec 31: week=%d, want 5", p.WeekInMonth)
	}
}

func TestPeriodLabels(t *testing.T) {
	p := GetFiscalPeriod(date(2025, time.January, 15))
	if got := p.FYLabel(); got != "FY25" {
		t.Fatalf("FYLabel=%q", got)
	}
	if got := p.QuarterLabel(); got != "FY25Q2" {
		t.Fatalf("QuarterLabel=%q", got)
	}
	if got := p.MonthLabel(); got != "Jan" {
		t.Fatalf("MonthLabel=%q", got)
	}
	if got := p.WeekLabel(); got != "Wk2" {
		t.Fatalf("WeekLabel=%q", got)
	}
}
