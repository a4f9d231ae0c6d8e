// Package recurring manages the lifecycle of recurring items: creation with
// anchor and category defaults, edits, deletion, due lists and payments.
package recurring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/catalog"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// CreateRequest describes a new recurring item.
//
// AnchorDay wins over FirstCharge; when both are empty the anchor is the
// day of month of the creation date. LastCharged marks the current cycle as
// already paid outside the app.
type CreateRequest struct {
	OwnerID     string
	Name        string
	Amount      decimal.Decimal
	Frequency   models.Frequency
	AnchorDay   int
	FirstCharge *time.Time
	LastCharged *time.Time
	CategoryID  string
	Icon        string
}

// DueRow is an item with its classification at a given instant.
type DueRow struct {
	Item      *models.RecurringItem `json:"item"`
	Status    schedule.Status       `json:"status"`
	DueDate   time.Time             `json:"due_date"`
	DaysUntil int                   `json:"days_until"`
}

// Occurrence is one future charge of an item.
type Occurrence struct {
	ItemID  string          `json:"item_id"`
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// Service implements recurring item operations on top of a store.
type Service struct {
	store      store.Store
	reconciler *reconciler.PaymentReconciler
	catalog    *catalog.Catalog
	notifier   notify.Notifier
	logger     logger.Logger
	now        func() time.Time
}

// NewService wires the service. The catalog and notifier are optional.
func NewService(st store.Store, rec *reconciler.PaymentReconciler, cat *catalog.Catalog, notifier notify.Notifier) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	if rec == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciler", nil, nil)
	}
	return &Service{
		store:      st,
		reconciler: rec,
		catalog:    cat,
		notifier:   notifier,
		logger:     logger.GetGlobalLogger().WithComponent("recurring"),
		now:        time.Now,
	}, nil
}

// Create stores a new active item
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.RecurringItem, error) {
	if !req.Frequency.IsValid() {
		return nil, errors.ScheduleError("frequency", req.Frequency, nil).
			WithSuggestion("use one of daily, weekly, monthly, semiannually, annually")
	}

	anchor := req.AnchorDay
	switch {
	case anchor != 0:
	case req.FirstCharge != nil:
		anchor = schedule.AnchorDayFor(*req.FirstCharge)
	case req.LastCharged != nil:
		anchor = schedule.AnchorDayFor(*req.LastCharged)
	default:
		anchor = schedule.AnchorDayFor(s.now())
	}
	if anchor < 1 || anchor > 31 {
		return nil, errors.ScheduleError("anchor_day", anchor, nil).
			WithSuggestion("the billing day must be between 1 and 31")
	}

	item := &models.RecurringItem{
		OwnerID:    req.OwnerID,
		Name:       strings.TrimSpace(req.Name),
		Amount:     req.Amount,
		Frequency:  req.Frequency,
		AnchorDay:  anchor,
		CategoryID: req.CategoryID,
		Icon:       req.Icon,
		Active:     true,
	}
	if req.LastCharged != nil {
		last := schedule.Day(*req.LastCharged)
		item.LastCharged = &last
	}
	s.applyCatalog(item)

	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}

	due, err := schedule.ItemNextDueDate(item, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"item_id":  item.ID,
		"name":     item.Name,
		"next_due": due.Format(models.DateLayout),
	}).Info("Recurring item created")

	notify.Send(ctx, s.notifier, notify.Message{
		Title: "Recurring item created",
		Body: fmt.Sprintf("%s: %s %s, next charge on %s.",
			item.Name, item.Amount.StringFixed(2), item.Frequency, due.Format(models.DateLayout)),
	}, s.logger)

	return item, nil
}

func (s *Service) applyCatalog(item *models.RecurringItem) {
	if s.catalog == nil || (item.CategoryID != "" && item.Icon != "") {
		return
	}
	m, ok := s.catalog.Lookup(item.Name)
	if !ok {
		return
	}
	if item.CategoryID == "" {
		item.CategoryID = m.Category.ID
	}
	if item.Icon == "" {
		item.Icon = m.Category.Icon
	}
}

// Get returns one item
func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.RecurringItem, error) {
	return s.store.GetItem(ctx, ownerID, id)
}

// List returns the owner's items
func (s *Service) List(ctx context.Context, ownerID string, activeOnly bool) ([]*models.RecurringItem, error) {
	return s.store.ListItems(ctx, store.ItemFilter{OwnerID: ownerID, ActiveOnly: activeOnly})
}

// Update applies patch. The last charge is kept, so a frequency change
// only moves due dates from the next cycle on.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch store.ItemPatch) (*models.RecurringItem, error) {
	if patch.IsEmpty() {
		return nil, errors.ValidationError(errors.CodeMissingField, "patch", nil, nil).
			WithSuggestion("provide at least one field to change")
	}
	if patch.Frequency != nil && !patch.Frequency.IsValid() {
		return nil, errors.ScheduleError("frequency", *patch.Frequency, nil)
	}
	if patch.AnchorDay != nil && (*patch.AnchorDay < 1 || *patch.AnchorDay > 31) {
		return nil, errors.ScheduleError("anchor_day", *patch.AnchorDay, nil)
	}

	item, err := s.store.UpdateItem(ctx, ownerID, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("item_id", id).Info("Recurring item updated")
	return item, nil
}

// Delete removes an item. Ledger entries it produced stay.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteItem(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.WithField("item_id", id).Info("Recurring item deleted")
	return nil
}

// Pay loads the item and records its current cycle as paid on paymentDate
func (s *Service) Pay(ctx context.Context, ownerID, id string, paymentDate time.Time) (*models.Effect, error) {
	item, err := s.store.GetItem(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	effect, err := s.reconciler.Pay(ctx, item, paymentDate)
	if err != nil {
		return nil, reconciler.SettledByDelete(err, item.ID)
	}

	notify.Send(ctx, s.notifier, notify.Message{
		Title: "Payment recorded",
		Body: fmt.Sprintf("%s paid %s; next charge on %s.",
			item.Name, effect.Entry.Amount.StringFixed(2), nextAfter(item, effect)),
	}, s.logger)
	return effect, nil
}

func nextAfter(item *models.RecurringItem, effect *models.Effect) string {
	if effect.NewLastCharged == nil {
		return "unknown"
	}
	next, err := schedule.AddAnchored(*effect.NewLastCharged, item.Frequency, 1, item.AnchorDay)
	if err != nil {
		return "unknown"
	}
	return next.Format(models.DateLayout)
}

// DueList classifies every active item at now, most urgent first
func (s *Service) DueList(ctx context.Context, ownerID string, now time.Time) ([]DueRow, error) {
	items, err := s.store.ListItems(ctx, store.ItemFilter{OwnerID: ownerID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	today := schedule.Day(now)
	rows := make([]DueRow, 0, len(items))
	for _, item := range items {
		status, due, err := schedule.Classify(item, now)
		if err != nil {
			s.logger.WithError(err).WithField("item_id", item.ID).Warn("Skipping item with invalid schedule")
			continue
		}
		rows = append(rows, DueRow{
			Item:      item,
			Status:    status,
			DueDate:   due,
			DaysUntil: int(due.Sub(today).Hours() / 24),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].DueDate.Equal(rows[j].DueDate) {
			return rows[i].DueDate.Before(rows[j].DueDate)
		}
		return rows[i].Item.Name < rows[j].Item.Name
	})
	return rows, nil
}

// Upcoming lists every charge of the owner's active items in [from, to],
// ordered by date
func (s *Service) Upcoming(ctx context.Context, ownerID string, from, to time.Time) ([]Occurrence, error) {
	if schedule.Day(from).After(schedule.Day(to)) {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "period",
			from.Format(models.DateLayout)+".."+to.Format(models.DateLayout), nil)
	}

	items, err := s.store.ListItems(ctx, store.ItemFilter{OwnerID: ownerID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for _, item := range items {
		dates, err := schedule.Occurrences(item, from, to, 0)
		if err != nil {
			s.logger.WithError(err).WithField("item_id", item.ID).Warn("Skipping item with invalid schedule")
			continue
		}
		for _, d := range dates {
			out = append(out, Occurrence{ItemID: item.ID, Name: item.Name, Amount: item.Amount, DueDate: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}
