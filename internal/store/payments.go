package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// ProcessRecurringPayment records one paid cycle of a recurring item.
//
// Inside a single transaction it locks the item row, verifies the stored
// last charge still equals req.ExpectedLastCharged, optionally checks the
// balance, appends the expense entry and advances last_charged to
// req.NewLastCharged. Nothing is written unless every step succeeds.
func (s *SQLStore) ProcessRecurringPayment(ctx context.Context, req PaymentRequest) (*models.Effect, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "payment", req.ItemID, err)
	}

	var effect *models.Effect
	err := s.withTx(ctx, "process recurring payment", func(tx *sql.Tx) error {
		item, err := s.getItem(ctx, tx, req.OwnerID, req.ItemID, true)
		if err != nil {
			return err
		}

		if !sameDate(item.LastCharged, req.ExpectedLastCharged) {
			return errors.PaymentError(errors.CodeAlreadyProcessing, req.ItemID, nil).
				WithContext("stored_last_charged", dateOrNever(item.LastCharged)).
				WithContext("expected_last_charged", dateOrNever(req.ExpectedLastCharged))
		}

		if req.EnforceBalance {
			if err := s.checkBalance(ctx, tx, req.OwnerID, req.ItemID, req.Amount); err != nil {
				return err
			}
		}

		cycle := item.CyclesPaid + 1
		entry := &models.LedgerEntry{
			OwnerID:         req.OwnerID,
			Kind:            models.EntryExpense,
			Amount:          req.Amount,
			Description:     req.Description,
			CategoryID:      req.CategoryID,
			RecurringItemID: req.ItemID,
			Cycle:           cycle,
			OccurredOn:      req.OccurredOn,
		}
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		newLast := req.NewLastCharged
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE recurring_items
			SET last_charged = ?, cycles_paid = ?, updated_at = ?
			WHERE id = ? AND owner_id = ?`),
			formatDate(newLast), cycle, formatTimestamp(s.now()), req.ItemID, req.OwnerID); err != nil {
			return err
		}

		effect = &models.Effect{
			Entry:               entry,
			RecurringItemID:     req.ItemID,
			PreviousLastCharged: item.LastCharged,
			NewLastCharged:      &newLast,
			Cycle:               cycle,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"item_id":      req.ItemID,
		"cycle":        effect.Cycle,
		"last_charged": formatDate(req.NewLastCharged),
	}).Debug("Recurring payment committed")

	return effect, nil
}

// ProcessInstallmentPayment marks exactly one installment line paid and
// writes its expense entry in the same transaction.
func (s *SQLStore) ProcessInstallmentPayment(ctx context.Context, req InstallmentPaymentRequest) (*models.Effect, error) {
	if req.LineID == "" || req.OwnerID == "" || req.PaidAt.IsZero() {
		return nil, errors.ValidationError(errors.CodeMissingField, "installment payment", req.LineID, nil)
	}

	var effect *models.Effect
	err := s.withTx(ctx, "process installment payment", func(tx *sql.Tx) error {
		line, err := s.getLine(ctx, tx, req.OwnerID, req.LineID, true)
		if err != nil {
			return err
		}
		if line.IsPaid {
			return errors.PaymentError(errors.CodeAlreadyProcessing, req.LineID, nil).
				WithContext("paid_at", dateOrNever(line.PaidAt))
		}

		if req.EnforceBalance {
			if err := s.checkBalance(ctx, tx, req.OwnerID, req.LineID, line.Amount); err != nil {
				return err
			}
		}

		description := req.Description
		if description == "" {
			description = line.Label()
		}
		entry := &models.LedgerEntry{
			OwnerID:           req.OwnerID,
			Kind:              models.EntryExpense,
			Amount:            line.Amount,
			Description:       description,
			CategoryID:        line.CategoryID,
			InstallmentLineID: line.ID,
			Cycle:             line.Index,
			OccurredOn:        req.PaidAt,
		}
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE installment_lines
			SET is_paid = ?, paid_at = ?, ledger_entry_id = ?
			WHERE id = ? AND owner_id = ? AND is_paid = ?`),
			true, formatDate(req.PaidAt), entry.ID, line.ID, req.OwnerID, false)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return errors.PaymentError(errors.CodeAlreadyProcessing, req.LineID, nil)
		}

		paidAt := req.PaidAt
		effect = &models.Effect{
			Entry:             entry,
			InstallmentLineID: line.ID,
			NewLastCharged:    &paidAt,
			Cycle:             line.Index,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"line_id": req.LineID,
		"index":   effect.Cycle,
	}).Debug("Installment payment committed")

	return effect, nil
}

func (s *SQLStore) checkBalance(ctx context.Context, q querier, ownerID, itemID string, amount decimal.Decimal) error {
	balance, err := s.sumBalance(ctx, q, ownerID)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return errors.PaymentError(errors.CodeInsufficientBalance, itemID, nil).
			WithContext("balance", balance.StringFixed(2)).
			WithContext("amount", amount.StringFixed(2))
	}
	return nil
}

func dateOrNever(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatDate(*t)
}

var _ Store = (*SQLStore)(nil)
