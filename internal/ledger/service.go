// Package ledger records money in and out of an owner's account and answers
// balance queries. Payments write their own entries through the store; this
// package covers deposits, manual expenses and reporting.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// EntryRequest describes a manual ledger entry.
type EntryRequest struct {
	OwnerID     string
	Amount      decimal.Decimal
	Description string
	CategoryID  string
	OccurredOn  time.Time
}

// Totals sums a set of entries.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
	Entries int             `json:"entries"`
}

// Service implements ledger operations.
type Service struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

// NewService creates a ledger service
func NewService(st store.Store) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	return &Service{
		store:  st,
		logger: logger.GetGlobalLogger().WithComponent("ledger"),
		now:    time.Now,
	}, nil
}

// Deposit records income
func (s *Service) Deposit(ctx context.Context, req EntryRequest) (*models.LedgerEntry, error) {
	return s.record(ctx, models.EntryIncome, req)
}

// Spend records an expense not tied to any recurring item or installment
func (s *Service) Spend(ctx context.Context, req EntryRequest) (*models.LedgerEntry, error) {
	return s.record(ctx, models.EntryExpense, req)
}

func (s *Service) record(ctx context.Context, kind models.EntryKind, req EntryRequest) (*models.LedgerEntry, error) {
	if !req.Amount.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", req.Amount.String(), nil)
	}
	occurred := req.OccurredOn
	if occurred.IsZero() {
		occurred = s.now()
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = string(kind)
	}

	entry := &models.LedgerEntry{
		OwnerID:     req.OwnerID,
		Kind:        kind,
		Amount:      req.Amount,
		Description: description,
		CategoryID:  req.CategoryID,
		OccurredOn:  schedule.Day(occurred),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"entry_id": entry.ID,
		"kind":     kind,
		"amount":   entry.Amount.StringFixed(2),
	}).Info("Ledger entry recorded")
	return entry, nil
}

// List returns entries newest first
func (s *Service) List(ctx context.Context, filter store.LedgerFilter) ([]*models.LedgerEntry, error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "kind", filter.Kind, nil).
			WithSuggestion("use 'income' or 'expense'")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "period",
			filter.From.Format(models.DateLayout)+".."+filter.To.Format(models.DateLayout), nil)
	}
	return s.store.ListLedgerEntries(ctx, filter)
}

// Balance returns income minus expenses over the whole ledger
func (s *Service) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return s.store.Balance(ctx, ownerID)
}

// Summarize totals the entries selected by filter
func (s *Service) Summarize(ctx context.Context, filter store.LedgerFilter) (*Totals, error) {
	entries, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Sum(entries), nil
}

// Sum totals entries by kind
func Sum(entries []*models.LedgerEntry) *Totals {
	t := &Totals{Income: decimal.Zero, Expense: decimal.Zero, Net: decimal.Zero}
	for _, e := range entries {
		switch e.Kind {
		case models.EntryIncome:
			t.Income = t.Income.Add(e.Amount)
		case models.EntryExpense:
			t.Expense = t.Expense.Add(e.Amount)
		}
		t.Net = t.Net.Add(e.Signed())
		t.Entries++
	}
	return t
}
