package reconciler

import (
	"time"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/pkg/errors"
)

// SkipReason explains why an item was left out of a batch.
type SkipReason string

const (
	SkipInactive       SkipReason = "inactive"
	SkipOutsidePeriod  SkipReason = "outside_period"
	SkipNotPayable     SkipReason = "not_payable"
	SkipAlreadySettled SkipReason = "already_settled"
	SkipCancelled      SkipReason = "cancelled"
)

// DueItem is a recurring item selected for payment with its due date.
type DueItem struct {
	Item    *models.RecurringItem
	DueDate time.Time
}

// Selection is the outcome of filtering items for a batch.
type Selection struct {
	Eligible []DueItem
	Skipped  []SkippedPayment
	Invalid  []FailedPayment
	Stats    SelectionStats
}

// SelectionStats counts what the filter saw
type SelectionStats struct {
	Considered    int `json:"considered"`
	Eligible      int `json:"eligible"`
	Inactive      int `json:"inactive"`
	OutsidePeriod int `json:"outside_period"`
	NotPayable    int `json:"not_payable"`
	Invalid       int `json:"invalid"`
}

// SelectDueItems keeps the items whose next due date lies in [start, end]
// and whose current cycle can be paid as of now. Items with a broken
// schedule are reported as invalid so the batch can list them as failed
// without touching storage. Eligible items keep their input order.
func SelectDueItems(items []*models.RecurringItem, start, end, now time.Time) *Selection {
	start, end = schedule.Day(start), schedule.Day(end)
	sel := &Selection{}

	for _, item := range items {
		if item == nil {
			continue
		}
		sel.Stats.Considered++

		if !item.Active {
			sel.Stats.Inactive++
			sel.Skipped = append(sel.Skipped, skipped(item.ID, item.Name, SkipInactive))
			continue
		}

		due, err := schedule.ItemNextDueDate(item, now)
		if err != nil {
			sel.Stats.Invalid++
			sel.Invalid = append(sel.Invalid, failed(item.ID, item.Name, err))
			continue
		}
		if due.Before(start) || due.After(end) {
			sel.Stats.OutsidePeriod++
			sel.Skipped = append(sel.Skipped, skipped(item.ID, item.Name, SkipOutsidePeriod))
			continue
		}

		payable, err := schedule.CanPay(item, now)
		if err != nil {
			sel.Stats.Invalid++
			sel.Invalid = append(sel.Invalid, failed(item.ID, item.Name, err))
			continue
		}
		if !payable {
			sel.Stats.NotPayable++
			sel.Skipped = append(sel.Skipped, skipped(item.ID, item.Name, SkipNotPayable))
			continue
		}

		sel.Eligible = append(sel.Eligible, DueItem{Item: item, DueDate: due})
	}

	sel.Stats.Eligible = len(sel.Eligible)
	return sel
}

// SelectDueLines keeps the unpaid lines due in [start, end], ordered as
// given.
func SelectDueLines(lines []*models.InstallmentLine, start, end time.Time) []*models.InstallmentLine {
	start, end = schedule.Day(start), schedule.Day(end)

	var due []*models.InstallmentLine
	for _, line := range lines {
		if line == nil || line.IsPaid {
			continue
		}
		d := schedule.Day(line.DueDate)
		if d.Before(start) || d.After(end) {
			continue
		}
		due = append(due, line)
	}
	return due
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "period", nil, nil).
			WithSuggestion("provide both a start and an end date")
	}
	if schedule.Day(start).After(schedule.Day(end)) {
		return errors.ValidationError(errors.CodeOutOfRange, "period",
			start.Format(models.DateLayout)+".."+end.Format(models.DateLayout), nil).
			WithSuggestion("the start date must not be after the end date")
	}
	return nil
}
