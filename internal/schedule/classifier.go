package schedule

import (
	"time"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

// Status labels where a recurring item sits relative to its next due date.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusDueToday Status = "due_today"
	StatusOverdue  Status = "overdue"
	StatusSettled  Status = "settled"
)

// IsOverdue reports whether the item's next due date has passed. The due
// date itself is payable but not late; overdue starts the day after.
func IsOverdue(item *models.RecurringItem, now time.Time, paidThisCycle bool) (bool, error) {
	if item == nil {
		return false, errors.ScheduleError("item", nil, nil)
	}
	if paidThisCycle {
		return false, nil
	}

	due, err := ItemNextDueDate(item, now)
	if err != nil {
		return false, err
	}
	return Day(now).After(due), nil
}

// CanPay reports whether the pay action is enabled: always for an item that
// was never charged, otherwise once now has reached the next due date. A
// cycle can therefore never be paid twice, even before it turns overdue.
func CanPay(item *models.RecurringItem, now time.Time) (bool, error) {
	if item == nil {
		return false, errors.ScheduleError("item", nil, nil)
	}
	if item.LastCharged == nil {
		if !item.Frequency.IsValid() {
			return false, errors.ScheduleError("frequency", item.Frequency, nil)
		}
		return true, nil
	}

	due, err := ItemNextDueDate(item, now)
	if err != nil {
		return false, err
	}
	return !Day(now).Before(due), nil
}

// Classify combines NextDueDate and CanPay into a single label. An item
// whose next cycle cannot be paid yet is settled for the current cycle
// unless it was never charged.
func Classify(item *models.RecurringItem, now time.Time) (Status, time.Time, error) {
	due, err := ItemNextDueDate(item, now)
	if err != nil {
		return "", time.Time{}, err
	}

	today := Day(now)
	switch {
	case today.After(due):
		return StatusOverdue, due, nil
	case today.Equal(due):
		return StatusDueToday, due, nil
	case item.LastCharged != nil:
		return StatusSettled, due, nil
	default:
		return StatusUpcoming, due, nil
	}
}

// InstallmentOverdue reports whether an unpaid line is past its due date.
func InstallmentOverdue(line *models.InstallmentLine, now time.Time) bool {
	return !line.IsPaid && Day(now).After(Day(line.DueDate))
}
