package services

import (
	"fmt"
	"time"
)

// Reporting periods: ISO weeks for the record window and the donor (PEPFAR)
// fiscal calendar for labels. The fiscal year starts October 1, quarters run
// Oct-Dec, Jan-Mar, Apr-Jun, Jul-Sep, and the week counter resets each
// calendar month.

// WeekWindow returns the Monday of the ISO week containing ref and the
// exclusive end one week later, covering Monday through Sunday.
func WeekWindow(ref time.Time) (start, end time.Time) {
	ref = truncateDay(ref)
	shift := 0
	switch wd := ref.Weekday(); wd {
	case time.Sunday:
		shift = -6
	default:
		shift = -(int(wd) - 1)
	}
	start = ref.AddDate(0, 0, shift)
	end = start.AddDate(0, 0, 7)
	return start, end
}

// FiscalPeriod locates ref within the donor fiscal calendar.
type FiscalPeriod struct {
	FiscalYear  int
	Quarter     int
	Month       time.Month
	WeekInMonth int
}

func GetFiscalPeriod(ref time.Time) FiscalPeriod {
	ref = truncateDay(ref)
	year, month := ref.Year(), ref.Month()

	fy := year
	if month >= time.October {
		fy = year + 1
	}

	var quarter int
	switch {
	case month >= time.October:
		quarter = 1
	case month <= time.March:
		quarter = 2
	case month <= time.June:
		quarter = 3
	default:
		quarter = 4
	}

	return FiscalPeriod{
		FiscalYear:  fy,
		Quarter:     quarter,
		Month:       month,
		WeekInMonth: weekInMonth(ref),
	}
}

// weekInMonth counts weeks from the first Monday on or after the 1st of the
// month. Days before that Monday count as week 1, and the counter caps at 5.
func weekInMonth(ref time.Time) int {
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	var offset int
	switch wd := int(monthStart.Weekday()); wd {
	case 0: // Sunday
		offset = 1
	case 1: // Monday
		offset = 0
	default:
		offset = 8 - wd
	}
	firstMonday := monthStart.AddDate(0, 0, offset)
	diff := int(ref.Sub(firstMonday).Hours() / 24)
	week := 1
	if diff >= 0 {
		week = diff/7 + 1
	}
	if week > 5 {
		week = 5
	}
	return week
}

// FYLabel renders e.g. "FY25" for fiscal year 2025.
func (p FiscalPeriod) FYLabel() string {
	return fmt.Sprintf("FY%02d", p.FiscalYear%100)
}

// QuarterLabel renders e.g. "FY25Q2".
func (p FiscalPeriod) QuarterLabel() string {
	return fmt.Sprintf("%sQ%d", p.FYLabel(), p.Quarter)
}

// MonthLabel renders the three-letter month, e.g. "Jan".
func (p FiscalPeriod) MonthLabel() string {
	return p.Month.String()[:3]
}

// WeekLabel renders e.g. "Wk3".
func (p FiscalPeriod) WeekLabel() string {
	return fmt.Sprintf("Wk%d", p.WeekInMonth)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
