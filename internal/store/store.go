// Package store persists recurring items, installment lines and the ledger.
//
// Besides plain CRUD it exposes two atomic procedures,
// ProcessRecurringPayment and ProcessInstallmentPayment, each executed as a
// single database transaction: the ledger write and the date/flag advance
// either both commit or both roll back.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
)

// Store is the persistence boundary used by the services and the reconciler.
type Store interface {
	CreateItem(ctx context.Context, item *models.RecurringItem) error
	GetItem(ctx context.Context, ownerID, id string) (*models.RecurringItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.RecurringItem, error)
	UpdateItem(ctx context.Context, ownerID, id string, patch ItemPatch) (*models.RecurringItem, error)
	DeleteItem(ctx context.Context, ownerID, id string) error

	CreateInstallmentLines(ctx context.Context, lines []*models.InstallmentLine) error
	GetInstallmentLine(ctx context.Context, ownerID, id string) (*models.InstallmentLine, error)
	ListInstallmentLines(ctx context.Context, filter InstallmentFilter) ([]*models.InstallmentLine, error)
	UpdateInstallmentLineAmount(ctx context.Context, ownerID, id string, amount decimal.Decimal) (*models.InstallmentLine, error)
	DeleteInstallmentPurchase(ctx context.Context, ownerID, purchaseName string) (int, error)
	CancelInstallmentPurchase(ctx context.Context, ownerID, purchaseName string) (*CancelResult, error)

	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]*models.LedgerEntry, error)
	Balance(ctx context.Context, ownerID string) (decimal.Decimal, error)

	ProcessRecurringPayment(ctx context.Context, req PaymentRequest) (*models.Effect, error)
	ProcessInstallmentPayment(ctx context.Context, req InstallmentPaymentRequest) (*models.Effect, error)

	Close() error
}

// ItemFilter selects recurring items.
type ItemFilter struct {
	OwnerID    string
	ActiveOnly bool
	Frequency  models.Frequency
}

// ItemPatch holds the fields of an item that may change after creation.
// Nil fields are left untouched.
type ItemPatch struct {
	Name       *string
	Amount     *decimal.Decimal
	Frequency  *models.Frequency
	AnchorDay  *int
	CategoryID *string
	Icon       *string
	Active     *bool
}

// IsEmpty reports whether the patch changes nothing
func (p ItemPatch) IsEmpty() bool {
	return p.Name == nil && p.Amount == nil && p.Frequency == nil && p.AnchorDay == nil &&
		p.CategoryID == nil && p.Icon == nil && p.Active == nil
}

// InstallmentFilter selects installment lines.
type InstallmentFilter struct {
	OwnerID      string
	PurchaseName string
	UnpaidOnly   bool
	DueFrom      *time.Time
	DueTo        *time.Time
}

// LedgerFilter selects ledger entries.
type LedgerFilter struct {
	OwnerID         string
	Kind            models.EntryKind
	From            *time.Time
	To              *time.Time
	RecurringItemID string
	Limit           int
}

// PaymentRequest is the input of the recurring payment procedure.
//
// ExpectedLastCharged is the item's last charge as the caller saw it; the
// procedure rejects the payment with AlreadyProcessing when the stored value
// differs, which is what makes a second concurrent pay of the same cycle a
// no-op.
type PaymentRequest struct {
	ItemID              string
	OwnerID             string
	ExpectedLastCharged *time.Time
	NewLastCharged      time.Time
	Amount              decimal.Decimal
	Description         string
	CategoryID          string
	OccurredOn          time.Time
	EnforceBalance      bool
}

// Validate checks the request before a transaction is opened
func (r PaymentRequest) Validate() error {
	if r.ItemID == "" || r.OwnerID == "" {
		return fmt.Errorf("item and owner are required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount.String())
	}
	if r.NewLastCharged.IsZero() || r.OccurredOn.IsZero() {
		return fmt.Errorf("new last charged and occurred dates are required")
	}
	if r.ExpectedLastCharged != nil && !r.NewLastCharged.After(*r.ExpectedLastCharged) {
		return fmt.Errorf("new last charged %s must be after %s",
			r.NewLastCharged.Format(models.DateLayout), r.ExpectedLastCharged.Format(models.DateLayout))
	}
	return nil
}

// InstallmentPaymentRequest is the input of the installment payment
// procedure. The amount charged is the one stored on the line.
type InstallmentPaymentRequest struct {
	LineID         string
	OwnerID        string
	Description    string
	PaidAt         time.Time
	EnforceBalance bool
}

// CancelResult reports what a forced cancellation removed.
type CancelResult struct {
	PurchaseName    string   `json:"purchase_name"`
	LinesDeleted    int      `json:"lines_deleted"`
	ReversedEntries []string `json:"reversed_entries"`
}
