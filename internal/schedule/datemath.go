// Package schedule implements the calendar arithmetic behind recurring bills
// and installment plans.
//
// All functions are pure: they take the current date as a parameter instead
// of reading the clock, and operate on calendar days normalized to midnight
// UTC. Month arithmetic clamps to the last valid day of the target month, so
// an item anchored on the 31st is due on Feb 29 in a leap year and on Feb 28
// otherwise, then returns to the 31st in March.
//
// The package has three layers:
//   - Add / AddAnchored: offset a date by N frequency units
//   - NextDueDate: the renewal rule for a recurring item
//   - IsOverdue / CanPay / Classify: the payable-state rules built on top
package schedule

import (
	"time"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

// Day normalizes t to midnight UTC of its own calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Add offsets date by count units of freq, preserving the day-of-month of
// date for month-based frequencies.
func Add(date time.Time, freq models.Frequency, count int) (time.Time, error) {
	return AddAnchored(date, freq, count, date.Day())
}

// AddAnchored offsets date by count units of freq. For month-based
// frequencies the result lands on anchorDay, clamped to the length of the
// target month. Daily and weekly ignore anchorDay.
func AddAnchored(date time.Time, freq models.Frequency, count int, anchorDay int) (time.Time, error) {
	if date.IsZero() {
		return time.Time{}, errors.ScheduleError("date", "zero", nil)
	}
	if count < 0 {
		return time.Time{}, errors.ScheduleError("count", count, nil)
	}

	day := Day(date)
	switch freq {
	case models.FrequencyDaily:
		return day.AddDate(0, 0, count), nil
	case models.FrequencyWeekly:
		return day.AddDate(0, 0, 7*count), nil
	case models.FrequencyMonthly:
		return addMonths(day, count, anchorDay)
	case models.FrequencySemiannually:
		return addMonths(day, 6*count, anchorDay)
	case models.FrequencyAnnually:
		return addMonths(day, 12*count, anchorDay)
	default:
		return time.Time{}, errors.ScheduleError("frequency", freq, nil)
	}
}

// addMonths moves to the first of the target month before choosing the day,
// so time.Date never normalizes an overflowing day into the following month.
func addMonths(day time.Time, months int, anchorDay int) (time.Time, error) {
	if anchorDay < 1 || anchorDay > 31 {
		return time.Time{}, errors.ScheduleError("anchor_day", anchorDay, nil)
	}

	first := time.Date(day.Year(), day.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	d := anchorDay
	if last := DaysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC), nil
}

// InstallmentDueDate returns the due date of line index (1-based) of a
// monthly installment plan starting on first.
func InstallmentDueDate(first time.Time, index int) (time.Time, error) {
	if index < 1 {
		return time.Time{}, errors.ScheduleError("index", index, nil)
	}
	return AddAnchored(first, models.FrequencyMonthly, index-1, first.Day())
}
