// Package installment manages installment purchases: a total split into N
// monthly lines, each paid and tracked independently.
package installment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// MaxLines bounds the number of lines of one purchase.
const MaxLines = 420

// CreateRequest describes a new purchase. Exactly one of Total and
// PerLine must be set.
//
// AlreadyPaid marks the first lines as settled outside the app; they get no
// ledger entry.
type CreateRequest struct {
	OwnerID          string
	PurchaseName     string
	Total            decimal.Decimal
	PerLine          decimal.Decimal
	Count            int
	FirstPaymentDate time.Time
	CategoryID       string
	AlreadyPaid      int
}

// Plan splits total into count monthly lines starting at first. Every line
// gets total/count rounded down to the cent; the remainder goes to the last
// line so the lines always add up to total.
func Plan(ownerID, purchaseName string, total decimal.Decimal, count int, first time.Time) ([]*models.InstallmentLine, error) {
	if count < 1 || count > MaxLines {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "count", count, nil).
			WithSuggestion(fmt.Sprintf("use between 1 and %d installments", MaxLines))
	}
	if !total.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "total", total.String(), nil)
	}

	n := decimal.NewFromInt(int64(count))
	base := total.Div(n).RoundFloor(2)
	if !base.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "total", total.String(), nil).
			WithSuggestion("the total is too small to split into that many installments")
	}
	last := total.Sub(base.Mul(n.Sub(decimal.NewFromInt(1))))

	return planLines(ownerID, purchaseName, count, first, func(i int) decimal.Decimal {
		if i == count {
			return last
		}
		return base
	})
}

// PlanPerLine builds count lines of the same amount.
func PlanPerLine(ownerID, purchaseName string, perLine decimal.Decimal, count int, first time.Time) ([]*models.InstallmentLine, error) {
	if count < 1 || count > MaxLines {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "count", count, nil)
	}
	if !perLine.IsPositive() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "per_line", perLine.String(), nil)
	}
	return planLines(ownerID, purchaseName, count, first, func(int) decimal.Decimal { return perLine })
}

func planLines(ownerID, purchaseName string, count int, first time.Time, amount func(i int) decimal.Decimal) ([]*models.InstallmentLine, error) {
	if first.IsZero() {
		return nil, errors.ValidationError(errors.CodeMissingField, "first_payment_date", nil, nil)
	}
	first = schedule.Day(first)

	lines := make([]*models.InstallmentLine, 0, count)
	for i := 1; i <= count; i++ {
		due, err := schedule.InstallmentDueDate(first, i)
		if err != nil {
			return nil, err
		}
		lines = append(lines, &models.InstallmentLine{
			OwnerID:          ownerID,
			PurchaseName:     purchaseName,
			Index:            i,
			TotalCount:       count,
			Amount:           amount(i),
			FirstPaymentDate: first,
			DueDate:          due,
		})
	}
	return lines, nil
}

// Service implements installment purchase operations.
type Service struct {
	store      store.Store
	reconciler *reconciler.PaymentReconciler
	notifier   notify.Notifier
	logger     logger.Logger
}

// NewService wires the service. The notifier is optional.
func NewService(st store.Store, rec *reconciler.PaymentReconciler, notifier notify.Notifier) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	if rec == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciler", nil, nil)
	}
	return &Service{
		store:      st,
		reconciler: rec,
		notifier:   notifier,
		logger:     logger.GetGlobalLogger().WithComponent("installment"),
	}, nil
}

// Create plans and stores every line of a purchase in one batch
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.InstallmentPurchase, error) {
	name := strings.TrimSpace(req.PurchaseName)
	if name == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "purchase_name", nil, nil)
	}

	var (
		lines []*models.InstallmentLine
		err   error
	)
	switch {
	case !req.Total.IsZero() && !req.PerLine.IsZero():
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "total", req.Total.String(), nil).
			WithSuggestion("give either the total or the per-installment amount, not both")
	case !req.PerLine.IsZero():
		lines, err = PlanPerLine(req.OwnerID, name, req.PerLine, req.Count, req.FirstPaymentDate)
	default:
		lines, err = Plan(req.OwnerID, name, req.Total, req.Count, req.FirstPaymentDate)
	}
	if err != nil {
		return nil, err
	}

	if req.AlreadyPaid < 0 || req.AlreadyPaid > len(lines) {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "already_paid", req.AlreadyPaid, nil)
	}
	for i, line := range lines {
		line.CategoryID = req.CategoryID
		if i < req.AlreadyPaid {
			paidAt := line.DueDate
			line.IsPaid = true
			line.PaidAt = &paidAt
		}
	}

	if err := s.store.CreateInstallmentLines(ctx, lines); err != nil {
		return nil, err
	}

	purchase := models.NewInstallmentPurchase(lines)
	s.logger.WithFields(logger.Fields{
		"purchase": name,
		"lines":    len(lines),
		"total":    purchase.TotalAmount.StringFixed(2),
	}).Info("Installment purchase created")

	notify.Send(ctx, s.notifier, notify.Message{
		Title: "Installment purchase created",
		Body: fmt.Sprintf("%s: %d x %s, first due on %s.",
			name, len(lines), lines[0].Amount.StringFixed(2), lines[0].DueDate.Format(models.DateLayout)),
	}, s.logger)

	return purchase, nil
}

// Get returns one purchase with all its lines
func (s *Service) Get(ctx context.Context, ownerID, purchaseName string) (*models.InstallmentPurchase, error) {
	lines, err := s.store.ListInstallmentLines(ctx, store.InstallmentFilter{OwnerID: ownerID, PurchaseName: purchaseName})
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.NotFoundError("installment purchase", purchaseName)
	}
	return models.NewInstallmentPurchase(lines), nil
}

// List returns the owner's purchases ordered by name. Fully paid purchases
// are left out when openOnly is set.
func (s *Service) List(ctx context.Context, ownerID string, openOnly bool) ([]*models.InstallmentPurchase, error) {
	lines, err := s.store.ListInstallmentLines(ctx, store.InstallmentFilter{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}

	var purchases []*models.InstallmentPurchase
	for _, group := range groupByPurchase(lines) {
		p := models.NewInstallmentPurchase(group)
		if openOnly && p.FullyPaid() {
			continue
		}
		purchases = append(purchases, p)
	}
	return purchases, nil
}

// groupByPurchase splits lines, already ordered by purchase and index, into
// one slice per purchase.
func groupByPurchase(lines []*models.InstallmentLine) [][]*models.InstallmentLine {
	var groups [][]*models.InstallmentLine
	for i, line := range lines {
		if i == 0 || line.PurchaseName != lines[i-1].PurchaseName {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], line)
	}
	return groups
}

// DueLines returns the unpaid lines of the owner due in [from, to]
func (s *Service) DueLines(ctx context.Context, ownerID string, from, to time.Time) ([]*models.InstallmentLine, error) {
	from, to = schedule.Day(from), schedule.Day(to)
	return s.store.ListInstallmentLines(ctx, store.InstallmentFilter{
		OwnerID:    ownerID,
		UnpaidOnly: true,
		DueFrom:    &from,
		DueTo:      &to,
	})
}

// Delete removes a purchase whose lines are all paid. While any line is
// unpaid it fails with PurchaseNotSettled and nothing is removed.
func (s *Service) Delete(ctx context.Context, ownerID, purchaseName string) error {
	n, err := s.store.DeleteInstallmentPurchase(ctx, ownerID, purchaseName)
	if err != nil {
		return err
	}
	s.logger.WithFields(logger.Fields{"purchase": purchaseName, "lines": n}).Info("Installment purchase deleted")
	return nil
}

// Cancel removes every line of a purchase regardless of state and reverses
// the ledger entries of the paid ones
func (s *Service) Cancel(ctx context.Context, ownerID, purchaseName string) (*store.CancelResult, error) {
	result, err := s.store.CancelInstallmentPurchase(ctx, ownerID, purchaseName)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"purchase": purchaseName,
		"lines":    result.LinesDeleted,
		"reversed": len(result.ReversedEntries),
	}).Info("Installment purchase cancelled")
	return result, nil
}

// OverrideLineAmount changes the amount of one unpaid line. Its siblings
// keep their amounts.
func (s *Service) OverrideLineAmount(ctx context.Context, ownerID, lineID string, amount decimal.Decimal) (*models.InstallmentLine, error) {
	return s.store.UpdateInstallmentLineAmount(ctx, ownerID, lineID, amount)
}

// Pay records one line as paid on paymentDate
func (s *Service) Pay(ctx context.Context, ownerID, lineID string, paymentDate time.Time) (*models.Effect, error) {
	line, err := s.store.GetInstallmentLine(ctx, ownerID, lineID)
	if err != nil {
		return nil, err
	}
	effect, err := s.reconciler.PayInstallment(ctx, line, paymentDate)
	if err != nil {
		return nil, reconciler.SettledByDelete(err, line.ID)
	}
	return effect, nil
}

// PayNext pays the unpaid line with the lowest index of a purchase
func (s *Service) PayNext(ctx context.Context, ownerID, purchaseName string, paymentDate time.Time) (*models.Effect, error) {
	purchase, err := s.Get(ctx, ownerID, purchaseName)
	if err != nil {
		return nil, err
	}
	next := purchase.NextUnpaid()
	if next == nil {
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, purchaseName, nil).
			WithContext("reason", "fully_paid")
	}
	effect, err := s.reconciler.PayInstallment(ctx, next, paymentDate)
	if err != nil {
		return nil, reconciler.SettledByDelete(err, next.ID)
	}
	return effect, nil
}
