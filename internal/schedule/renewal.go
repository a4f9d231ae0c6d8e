package schedule

import (
	"time"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

// NextDueDate returns the due date of the first unpaid cycle.
//
// With lastCharged set the result is exactly one cycle after it and now is
// not consulted, however stale lastCharged is. With lastCharged nil the
// item has never been charged and the first due date is bootstrapped from
// now: the anchor day of the current month if it has not passed yet,
// otherwise the anchor day one period later. Daily and weekly items that
// were never charged are due today.
func NextDueDate(freq models.Frequency, anchorDay int, lastCharged *time.Time, now time.Time) (time.Time, error) {
	if !freq.IsValid() {
		return time.Time{}, errors.ScheduleError("frequency", freq, nil)
	}
	if anchorDay < 1 || anchorDay > 31 {
		return time.Time{}, errors.ScheduleError("anchor_day", anchorDay, nil)
	}

	if lastCharged != nil {
		return AddAnchored(*lastCharged, freq, 1, anchorDay)
	}

	today := Day(now)
	if !freq.UsesAnchorDay() {
		return today, nil
	}

	thisMonth, err := addMonths(today, 0, anchorDay)
	if err != nil {
		return time.Time{}, err
	}
	if !thisMonth.Before(today) {
		return thisMonth, nil
	}
	return AddAnchored(thisMonth, freq, 1, anchorDay)
}

// ItemNextDueDate is NextDueDate applied to an item's own fields.
func ItemNextDueDate(item *models.RecurringItem, now time.Time) (time.Time, error) {
	return NextDueDate(item.Frequency, item.AnchorDay, item.LastCharged, now)
}

// Occurrences lists the due dates of item that fall in [from, to], starting
// at its next due date. The list is capped at limit entries when limit > 0.
func Occurrences(item *models.RecurringItem, from, to time.Time, limit int) ([]time.Time, error) {
	from, to = Day(from), Day(to)
	due, err := ItemNextDueDate(item, from)
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for !due.After(to) {
		if !due.Before(from) {
			out = append(out, due)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		next, err := AddAnchored(due, item.Frequency, 1, item.AnchorDay)
		if err != nil {
			return nil, err
		}
		due = next
	}
	return out, nil
}

// AnchorDayFor derives the anchor day from the date of the first charge.
func AnchorDayFor(firstCharge time.Time) int {
	return Day(firstCharge).Day()
}
