package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

const lineColumns = `id, owner_id, purchase_name, line_index, total_count, amount, first_payment_date,
	due_date, is_paid, paid_at, ledger_entry_id, category_id, created_at`

func scanLine(row scanner) (*models.InstallmentLine, error) {
	var (
		line      models.InstallmentLine
		first     string
		due       string
		paidAt    sql.NullString
		createdAt string
	)
	if err := row.Scan(&line.ID, &line.OwnerID, &line.PurchaseName, &line.Index, &line.TotalCount, &line.Amount,
		&first, &due, &line.IsPaid, &paidAt, &line.LedgerEntryID, &line.CategoryID, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if line.FirstPaymentDate, err = models.ParseDate(first); err != nil {
		return nil, err
	}
	if line.DueDate, err = models.ParseDate(due); err != nil {
		return nil, err
	}
	if line.PaidAt, err = parseNullDate(paidAt); err != nil {
		return nil, err
	}
	line.CreatedAt = parseTimestamp(createdAt)
	return &line, nil
}

// CreateInstallmentLines inserts all lines of a purchase in one transaction
func (s *SQLStore) CreateInstallmentLines(ctx context.Context, lines []*models.InstallmentLine) error {
	if len(lines) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "lines", 0, nil)
	}

	now := s.now()
	for _, line := range lines {
		if line.ID == "" {
			line.ID = s.newID()
		}
		line.CreatedAt = now
		if err := line.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidFormat, "installment line", line.Label(), err)
		}
	}

	return s.withTx(ctx, "create installment lines", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM installment_lines WHERE owner_id = ? AND purchase_name = ?`),
			lines[0].OwnerID, lines[0].PurchaseName).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return errors.ValidationError(errors.CodeInvalidFormat, "purchase_name", lines[0].PurchaseName,
				stderrors.New("a purchase with this name already exists")).
				WithSuggestion("choose a different purchase name")
		}

		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO installment_lines (`+lineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, line := range lines {
			if _, err := stmt.ExecContext(ctx, line.ID, line.OwnerID, line.PurchaseName, line.Index, line.TotalCount,
				line.Amount, formatDate(line.FirstPaymentDate), formatDate(line.DueDate), line.IsPaid,
				nullDate(line.PaidAt), line.LedgerEntryID, line.CategoryID, formatTimestamp(line.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetInstallmentLine loads one line of the owner
func (s *SQLStore) GetInstallmentLine(ctx context.Context, ownerID, id string) (*models.InstallmentLine, error) {
	return s.getLine(ctx, s.db, ownerID, id, false)
}

func (s *SQLStore) getLine(ctx context.Context, q querier, ownerID, id string, lock bool) (*models.InstallmentLine, error) {
	query := `SELECT ` + lineColumns + ` FROM installment_lines WHERE id = ? AND owner_id = ?`
	if lock {
		query += s.forUpdate()
	}

	line, err := scanLine(q.QueryRowContext(ctx, s.rebind(query), id, ownerID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("installment line", id)
	}
	if err != nil {
		return nil, errors.StorageError("get installment line", err)
	}
	return line, nil
}

// ListInstallmentLines returns lines ordered by purchase and index
func (s *SQLStore) ListInstallmentLines(ctx context.Context, filter InstallmentFilter) ([]*models.InstallmentLine, error) {
	return s.listLines(ctx, s.db, filter, false)
}

func (s *SQLStore) listLines(ctx context.Context, q querier, filter InstallmentFilter, lock bool) ([]*models.InstallmentLine, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.PurchaseName != "" {
		where = append(where, "purchase_name = ?")
		args = append(args, filter.PurchaseName)
	}
	if filter.UnpaidOnly {
		where = append(where, "is_paid = ?")
		args = append(args, false)
	}
	if filter.DueFrom != nil {
		where = append(where, "due_date >= ?")
		args = append(args, formatDate(*filter.DueFrom))
	}
	if filter.DueTo != nil {
		where = append(where, "due_date <= ?")
		args = append(args, formatDate(*filter.DueTo))
	}

	query := `SELECT ` + lineColumns + ` FROM installment_lines`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY purchase_name, line_index"
	if lock {
		query += s.forUpdate()
	}

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("list installment lines", err)
	}
	defer rows.Close()

	var lines []*models.InstallmentLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, errors.StorageError("scan installment line", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list installment lines", err)
	}
	return lines, nil
}

// UpdateInstallmentLineAmount overrides the amount of a single unpaid line
func (s *SQLStore) UpdateInstallmentLineAmount(ctx context.Context, ownerID, id string, amount decimal.Decimal) (*models.InstallmentLine, error) {
	if !amount.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", amount.String(), nil)
	}

	var updated *models.InstallmentLine
	err := s.withTx(ctx, "update installment line", func(tx *sql.Tx) error {
		line, err := s.getLine(ctx, tx, ownerID, id, true)
		if err != nil {
			return err
		}
		if line.IsPaid {
			return errors.PaymentError(errors.CodeAlreadyProcessing, line.Label(), nil).
				WithSuggestion("paid installments cannot be edited")
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE installment_lines SET amount = ? WHERE id = ? AND owner_id = ?`),
			amount, id, ownerID); err != nil {
			return err
		}
		line.Amount = amount
		updated = line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteInstallmentPurchase removes a fully paid purchase. Ledger entries of
// its lines are kept since they record money that was actually spent.
func (s *SQLStore) DeleteInstallmentPurchase(ctx context.Context, ownerID, purchaseName string) (int, error) {
	var deleted int

	err := s.withTx(ctx, "delete installment purchase", func(tx *sql.Tx) error {
		lines, err := s.listLines(ctx, tx, InstallmentFilter{OwnerID: ownerID, PurchaseName: purchaseName}, true)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return errors.NotFoundError("installment purchase", purchaseName)
		}

		unpaid := 0
		for _, line := range lines {
			if !line.IsPaid {
				unpaid++
			}
		}
		if unpaid > 0 {
			return errors.PaymentError(errors.CodePurchaseNotSettled, purchaseName, nil).
				WithContext("unpaid_lines", unpaid).
				WithContext("total_lines", len(lines))
		}

		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM installment_lines WHERE owner_id = ? AND purchase_name = ?`),
			ownerID, purchaseName)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CancelInstallmentPurchase force-deletes every line of a purchase and the
// ledger entries written for the lines already paid.
func (s *SQLStore) CancelInstallmentPurchase(ctx context.Context, ownerID, purchaseName string) (*CancelResult, error) {
	result := &CancelResult{PurchaseName: purchaseName}

	err := s.withTx(ctx, "cancel installment purchase", func(tx *sql.Tx) error {
		lines, err := s.listLines(ctx, tx, InstallmentFilter{OwnerID: ownerID, PurchaseName: purchaseName}, true)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return errors.NotFoundError("installment purchase", purchaseName)
		}

		var entryIDs []interface{}
		for _, line := range lines {
			if line.LedgerEntryID != "" {
				entryIDs = append(entryIDs, line.LedgerEntryID)
				result.ReversedEntries = append(result.ReversedEntries, line.LedgerEntryID)
			}
		}

		if len(entryIDs) > 0 {
			args := append([]interface{}{ownerID}, entryIDs...)
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM ledger_entries WHERE owner_id = ? AND id IN (`+
				placeholders(len(entryIDs))+`)`), args...); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM installment_lines WHERE owner_id = ? AND purchase_name = ?`),
			ownerID, purchaseName)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		result.LinesDeleted = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
