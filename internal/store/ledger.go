package store

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

const entryColumns = `id, owner_id, kind, amount, description, category_id, recurring_item_id,
	installment_line_id, cycle, occurred_on, created_at`

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var (
		entry      models.LedgerEntry
		kind       string
		occurredOn string
		createdAt  string
	)
	if err := row.Scan(&entry.ID, &entry.OwnerID, &kind, &entry.Amount, &entry.Description, &entry.CategoryID,
		&entry.RecurringItemID, &entry.InstallmentLineID, &entry.Cycle, &occurredOn, &createdAt); err != nil {
		return nil, err
	}

	entry.Kind = models.EntryKind(kind)
	occurred, err := models.ParseDate(occurredOn)
	if err != nil {
		return nil, err
	}
	entry.OccurredOn = occurred
	entry.CreatedAt = parseTimestamp(createdAt)
	return &entry, nil
}

// InsertLedgerEntry appends an entry to the ledger
func (s *SQLStore) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.insertEntry(ctx, s.db, entry); err != nil {
		if _, ok := errors.AsBillingError(err); ok {
			return err
		}
		return errors.StorageError("insert ledger entry", err)
	}
	return nil
}

func (s *SQLStore) insertEntry(ctx context.Context, q querier, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = s.newID()
	}
	entry.CreatedAt = s.now()
	if err := entry.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "ledger entry", entry.Description, err)
	}

	_, err := q.ExecContext(ctx, s.rebind(`INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.OwnerID, string(entry.Kind), entry.Amount, entry.Description, entry.CategoryID,
		entry.RecurringItemID, entry.InstallmentLineID, entry.Cycle, formatDate(entry.OccurredOn),
		formatTimestamp(entry.CreatedAt))
	return err
}

// ListLedgerEntries returns entries newest first
func (s *SQLStore) ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.From != nil {
		where = append(where, "occurred_on >= ?")
		args = append(args, formatDate(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "occurred_on <= ?")
		args = append(args, formatDate(*filter.To))
	}
	if filter.RecurringItemID != "" {
		where = append(where, "recurring_item_id = ?")
		args = append(args, filter.RecurringItemID)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_on DESC, created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("list ledger entries", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.StorageError("scan ledger entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list ledger entries", err)
	}
	return entries, nil
}

// Balance returns income minus expenses for the owner
func (s *SQLStore) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	balance, err := s.sumBalance(ctx, s.db, ownerID)
	if err != nil {
		return decimal.Zero, errors.StorageError("compute balance", err)
	}
	return balance, nil
}
