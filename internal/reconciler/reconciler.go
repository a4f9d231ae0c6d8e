// Package reconciler records payments of recurring items and installment
// lines, one at a time or in batches.
//
// PaymentReconciler is the single-item entry point. It guards each item with
// an in-process advisory lock, checks that the current cycle is payable, and
// hands the ledger write plus the date advance to the store as one atomic
// procedure. The store re-checks the item's last charge inside its
// transaction, which also covers requests coming from other processes that
// the in-process lock cannot see.
//
// BatchPaymentOrchestrator applies the reconciler to every eligible item of a
// period, strictly sequentially, collecting per-item outcomes.
//
// Example usage:
//
//	rec, _ := reconciler.NewPaymentReconciler(st, reconciler.DefaultConfig())
//	orch, _ := reconciler.NewBatchPaymentOrchestrator(rec, notifier)
//	orch.AddProgressCallback(func(p *reconciler.BatchProgress) {
//		fmt.Printf("%d/%d %s\n", p.Processed, p.Total, p.CurrentItem)
//	})
//	result, err := orch.PayAllDueInPeriod(ctx, items, start, end, time.Now())
package reconciler

import (
	"context"
	"fmt"
	"time"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// Config holds payment processing options
type Config struct {
	// Reject a payment when the ledger balance is lower than its amount.
	EnforceBalance bool `mapstructure:"enforce_balance"`

	// Pause between items of a batch. Not needed for correctness.
	InterItemDelay time.Duration `mapstructure:"inter_item_delay"`

	// Send one summary notification at the end of every batch.
	NotifyOnBatch bool `mapstructure:"notify_on_batch"`
}

// DefaultConfig returns the default payment configuration
func DefaultConfig() *Config {
	return &Config{
		EnforceBalance: false,
		InterItemDelay: 100 * time.Millisecond,
		NotifyOnBatch:  true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.InterItemDelay < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "payments.inter_item_delay", c.InterItemDelay, nil).
			WithSuggestion("use a non-negative duration such as '100ms'")
	}
	if c.InterItemDelay > time.Minute {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "payments.inter_item_delay", c.InterItemDelay, nil).
			WithSuggestion("keep the delay under one minute")
	}
	return nil
}

// PaymentReconciler pays a single recurring item or installment line.
type PaymentReconciler struct {
	store  store.Store
	locks  *LockSet
	config *Config
	logger logger.Logger
}

// NewPaymentReconciler creates a reconciler on top of st
func NewPaymentReconciler(st store.Store, config *Config) (*PaymentReconciler, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("provide an opened store")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &PaymentReconciler{
		store:  st,
		locks:  NewLockSet(),
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("payment_reconciler"),
	}, nil
}

// Config returns the reconciler configuration
func (r *PaymentReconciler) Config() *Config {
	return r.config
}

// Locks exposes the per-item lock set
func (r *PaymentReconciler) Locks() *LockSet {
	return r.locks
}

// Pay records the current cycle of item as paid on paymentDate.
//
// The new last charge is computed from the last charge the caller holds,
// so a late payment still advances the item by exactly one cycle. The
// outcome is one of:
//   - an Effect, when the ledger entry and the date advance committed
//   - AlreadyProcessing, when the item is locked, not yet payable, or was
//     advanced by someone else since the caller read it
//   - NotFound, when the item was deleted
//   - InsufficientBalance, InvalidSchedule or StorageError otherwise
//
// A failed payment is never retried here.
func (r *PaymentReconciler) Pay(ctx context.Context, item *models.RecurringItem, paymentDate time.Time) (*models.Effect, error) {
	if item == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "item", nil, nil)
	}

	log := r.logger.WithFields(logger.Fields{
		"item_id": item.ID,
		"name":    item.Name,
	})

	release, ok := r.locks.TryAcquire(item.ID)
	if !ok {
		log.Debug("Payment already in flight")
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, item.ID, nil).
			WithContext("reason", "locked")
	}
	defer release()

	payable, err := schedule.CanPay(item, paymentDate)
	if err != nil {
		return nil, err
	}
	newLastCharged, err := schedule.ItemNextDueDate(item, paymentDate)
	if err != nil {
		return nil, err
	}
	if !payable {
		log.WithField("next_due", newLastCharged.Format(models.DateLayout)).Debug("Current cycle already paid")
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, item.ID, nil).
			WithContext("reason", "cycle_paid").
			WithContext("next_due", newLastCharged.Format(models.DateLayout))
	}

	req := store.PaymentRequest{
		ItemID:              item.ID,
		OwnerID:             item.OwnerID,
		ExpectedLastCharged: item.LastCharged,
		NewLastCharged:      newLastCharged,
		Amount:              item.Amount,
		Description:         fmt.Sprintf("%s (cycle %d)", item.Name, item.CyclesPaid+1),
		CategoryID:          item.CategoryID,
		OccurredOn:          schedule.Day(paymentDate),
		EnforceBalance:      r.config.EnforceBalance,
	}

	// Once issued, a payment runs to completion even if the caller goes away.
	effect, err := r.store.ProcessRecurringPayment(context.WithoutCancel(ctx), req)
	if err != nil {
		err = errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageFailure, "process recurring payment")
		log.WithError(err).Debug("Payment rejected")
		return nil, err
	}

	log.WithFields(logger.Fields{
		"cycle":        effect.Cycle,
		"last_charged": newLastCharged.Format(models.DateLayout),
		"amount":       item.Amount.StringFixed(2),
	}).Info("Recurring payment recorded")

	return effect, nil
}

// PayInstallment records exactly one installment line as paid on
// paymentDate. Sibling lines are never touched.
func (r *PaymentReconciler) PayInstallment(ctx context.Context, line *models.InstallmentLine, paymentDate time.Time) (*models.Effect, error) {
	if line == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "installment line", nil, nil)
	}

	log := r.logger.WithFields(logger.Fields{
		"line_id":  line.ID,
		"purchase": line.Label(),
	})

	release, ok := r.locks.TryAcquire(line.ID)
	if !ok {
		log.Debug("Installment payment already in flight")
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, line.ID, nil).
			WithContext("reason", "locked")
	}
	defer release()

	if line.IsPaid {
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, line.ID, nil).
			WithContext("reason", "line_paid")
	}

	effect, err := r.store.ProcessInstallmentPayment(context.WithoutCancel(ctx), store.InstallmentPaymentRequest{
		LineID:         line.ID,
		OwnerID:        line.OwnerID,
		Description:    line.Label(),
		PaidAt:         schedule.Day(paymentDate),
		EnforceBalance: r.config.EnforceBalance,
	})
	if err != nil {
		err = errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageFailure, "process installment payment")
		log.WithError(err).Debug("Installment payment rejected")
		return nil, err
	}

	log.WithField("amount", effect.Entry.Amount.StringFixed(2)).Info("Installment payment recorded")
	return effect, nil
}

// IsSettledOutcome reports whether err means there is nothing left to pay:
// a concurrent or earlier payment already settled the cycle, or the item no
// longer exists.
func IsSettledOutcome(err error) bool {
	return errors.IsCode(err, errors.CodeAlreadyProcessing) || errors.IsCode(err, errors.CodeNotFound)
}

// SettledByDelete turns a NotFound raised while paying id into
// AlreadyProcessing with reason "deleted". The caller looked the record up
// before paying, so it was deleted concurrently and nothing is left to pay.
func SettledByDelete(err error, id string) error {
	if !errors.IsCode(err, errors.CodeNotFound) {
		return err
	}
	return errors.PaymentError(errors.CodeAlreadyProcessing, id, err).
		WithContext("reason", "deleted")
}
