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

const itemColumns = `id, owner_id, name, amount, frequency, anchor_day, last_charged, cycles_paid,
	category_id, icon, active, created_at, updated_at`

func scanItem(row scanner) (*models.RecurringItem, error) {
	var (
		item        models.RecurringItem
		freq        string
		lastCharged sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Amount, &freq, &item.AnchorDay,
		&lastCharged, &item.CyclesPaid, &item.CategoryID, &item.Icon, &item.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	item.Frequency = models.Frequency(freq)
	last, err := parseNullDate(lastCharged)
	if err != nil {
		return nil, err
	}
	item.LastCharged = last
	item.CreatedAt = parseTimestamp(createdAt)
	item.UpdatedAt = parseTimestamp(updatedAt)
	return &item, nil
}

// CreateItem inserts a new recurring item, assigning an id when empty
func (s *SQLStore) CreateItem(ctx context.Context, item *models.RecurringItem) error {
	if item.ID == "" {
		item.ID = s.newID()
	}
	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now

	if err := item.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidFormat, "item", item.Name, err)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO recurring_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.OwnerID, item.Name, item.Amount, string(item.Frequency), item.AnchorDay,
		nullDate(item.LastCharged), item.CyclesPaid, item.CategoryID, item.Icon, item.Active,
		formatTimestamp(item.CreatedAt), formatTimestamp(item.UpdatedAt))
	if err != nil {
		return errors.StorageError("create item", err)
	}
	return nil
}

// GetItem loads one item of the owner
func (s *SQLStore) GetItem(ctx context.Context, ownerID, id string) (*models.RecurringItem, error) {
	return s.getItem(ctx, s.db, ownerID, id, false)
}

func (s *SQLStore) getItem(ctx context.Context, q querier, ownerID, id string, lock bool) (*models.RecurringItem, error) {
	query := `SELECT ` + itemColumns + ` FROM recurring_items WHERE id = ? AND owner_id = ?`
	if lock {
		query += s.forUpdate()
	}

	item, err := scanItem(q.QueryRowContext(ctx, s.rebind(query), id, ownerID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("recurring item", id)
	}
	if err != nil {
		return nil, errors.StorageError("get item", err)
	}
	return item, nil
}

// ListItems returns the items matching filter ordered by name
func (s *SQLStore) ListItems(ctx context.Context, filter ItemFilter) ([]*models.RecurringItem, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}
	if filter.Frequency != "" {
		where = append(where, "frequency = ?")
		args = append(args, string(filter.Frequency))
	}

	query := `SELECT ` + itemColumns + ` FROM recurring_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.StorageError("list items", err)
	}
	defer rows.Close()

	var items []*models.RecurringItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.StorageError("scan item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list items", err)
	}
	return items, nil
}

// UpdateItem applies patch to an item. Payment state (last charged, cycles
// paid) is only changed by ProcessRecurringPayment.
func (s *SQLStore) UpdateItem(ctx context.Context, ownerID, id string, patch ItemPatch) (*models.RecurringItem, error) {
	var updated *models.RecurringItem

	err := s.withTx(ctx, "update item", func(tx *sql.Tx) error {
		item, err := s.getItem(ctx, tx, ownerID, id, true)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = item
			return nil
		}

		applyPatch(item, patch)
		item.UpdatedAt = s.now()
		if err := item.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidFormat, "item", id, err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE recurring_items
			SET name = ?, amount = ?, frequency = ?, anchor_day = ?, category_id = ?, icon = ?, active = ?, updated_at = ?
			WHERE id = ? AND owner_id = ?`),
			item.Name, item.Amount, string(item.Frequency), item.AnchorDay, item.CategoryID, item.Icon,
			item.Active, formatTimestamp(item.UpdatedAt), id, ownerID)
		if err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyPatch(item *models.RecurringItem, patch ItemPatch) {
	if patch.Name != nil {
		item.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Amount != nil {
		item.Amount = *patch.Amount
	}
	if patch.Frequency != nil {
		item.Frequency = *patch.Frequency
	}
	if patch.AnchorDay != nil {
		item.AnchorDay = *patch.AnchorDay
	}
	if patch.CategoryID != nil {
		item.CategoryID = *patch.CategoryID
	}
	if patch.Icon != nil {
		item.Icon = *patch.Icon
	}
	if patch.Active != nil {
		item.Active = *patch.Active
	}
}

// DeleteItem removes an item. Its ledger entries stay as history.
func (s *SQLStore) DeleteItem(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM recurring_items WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return errors.StorageError("delete item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.StorageError("delete item", err)
	}
	if n == 0 {
		return errors.NotFoundError("recurring item", id)
	}
	return nil
}

// sumBalance folds the owner's ledger into a signed balance. Amounts are
// summed as decimals in Go so sqlite TEXT columns never pass through float.
func (s *SQLStore) sumBalance(ctx context.Context, q querier, ownerID string) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT kind, amount FROM ledger_entries WHERE owner_id = ?`), ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var (
			kind   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return decimal.Zero, err
		}
		if models.EntryKind(kind) == models.EntryExpense {
			balance = balance.Sub(amount)
		} else {
			balance = balance.Add(amount)
		}
	}
	return balance, rows.Err()
}
