package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// BatchPaymentOrchestrator pays every eligible item of a period.
//
// Items are processed strictly one at a time so that each balance check
// sees the effect of the previous payment. Every item is independently
// atomic; the batch as a whole is not, and one failing item never blocks or
// reverses the others. Only one batch may run at a time per orchestrator.
type BatchPaymentOrchestrator struct {
	reconciler *PaymentReconciler
	notifier   notify.Notifier
	logger     logger.Logger

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error

	progressCallbacks []ProgressCallback
	currentProgress   *BatchProgress
	progressMutex     sync.RWMutex
}

// BatchProgress tracks a running batch
type BatchProgress struct {
	Total       int           `json:"total"`
	Processed   int           `json:"processed"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	CurrentItem string        `json:"current_item"`
	Percent     float64       `json:"percent"`
	StartTime   time.Time     `json:"start_time"`
	Elapsed     time.Duration `json:"elapsed"`
}

// ProgressCallback is called after every processed item
type ProgressCallback func(*BatchProgress)

// FailedPayment is an item whose payment was attempted and failed.
type FailedPayment struct {
	ItemID  string           `json:"item_id"`
	Name    string           `json:"name"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Err     error            `json:"-"`
}

// SkippedPayment is an item left unpaid without being an error.
type SkippedPayment struct {
	ItemID string     `json:"item_id"`
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
}

// BatchResult aggregates the per-item outcomes of a batch.
type BatchResult struct {
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Succeeded   []string         `json:"succeeded"`
	Failed      []FailedPayment  `json:"failed"`
	Skipped     []SkippedPayment `json:"skipped"`
	Effects     []*models.Effect `json:"effects,omitempty"`
	TotalPaid   decimal.Decimal  `json:"total_paid"`
	Selection   SelectionStats   `json:"selection"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration"`
}

// Err combines the errors of the failed items, or returns nil
func (r *BatchResult) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.ItemID, f.Err))
	}
	return err
}

// Summary returns the notification sent at the end of the batch
func (r *BatchResult) Summary() notify.Message {
	body := fmt.Sprintf("%d paid (total %s), %d failed, %d skipped.",
		len(r.Succeeded), r.TotalPaid.StringFixed(2), len(r.Failed), len(r.Skipped))
	for _, f := range r.Failed {
		body += fmt.Sprintf("\n%s: %s", displayName(f.Name, f.ItemID), f.Message)
	}
	return notify.Message{
		Title: fmt.Sprintf("Payments %s to %s",
			r.PeriodStart.Format(models.DateLayout), r.PeriodEnd.Format(models.DateLayout)),
		Body: body,
	}
}

// NewBatchPaymentOrchestrator creates an orchestrator. notifier may be nil.
func NewBatchPaymentOrchestrator(rec *PaymentReconciler, notifier notify.Notifier) (*BatchPaymentOrchestrator, error) {
	if rec == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "payment_reconciler", nil, nil).
			WithSuggestion("provide a valid PaymentReconciler instance")
	}

	log := logger.GetGlobalLogger().WithComponent("batch_orchestrator")
	log.Debug("Creating batch payment orchestrator")

	return &BatchPaymentOrchestrator{
		reconciler:      rec,
		notifier:        notifier,
		logger:          log,
		sleep:           sleepContext,
		currentProgress: &BatchProgress{},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (o *BatchPaymentOrchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// Running reports whether a batch is in progress
func (o *BatchPaymentOrchestrator) Running() bool {
	return o.running.Load()
}

// PayAllDueInPeriod pays every item whose next due date lies in
// [start, end] and whose current cycle is payable as of now.
//
// The returned error is reserved for problems with the batch itself (an
// invalid period or an overlapping batch). Per-item failures are reported
// in BatchResult.Failed; items that turned out to be settled already are
// reported in BatchResult.Skipped.
func (o *BatchPaymentOrchestrator) PayAllDueInPeriod(
	ctx context.Context,
	items []*models.RecurringItem,
	start, end, now time.Time,
) (*BatchResult, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	if !o.running.CAS(false, true) {
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, "batch", nil).
			WithSuggestion("wait for the running batch to finish")
	}
	defer o.running.Store(false)

	selection := SelectDueItems(items, start, end, now)
	result := newBatchResult(start, end)
	result.Selection = selection.Stats
	result.Skipped = append(result.Skipped, selection.Skipped...)
	result.Failed = append(result.Failed, selection.Invalid...)

	o.logger.WithFields(logger.Fields{
		"period_start": start.Format(models.DateLayout),
		"period_end":   end.Format(models.DateLayout),
		"considered":   selection.Stats.Considered,
		"eligible":     selection.Stats.Eligible,
	}).Info("Starting batch payment")

	tasks := make([]batchTask, 0, len(selection.Eligible))
	for _, due := range selection.Eligible {
		item := due.Item
		tasks = append(tasks, batchTask{
			id:   item.ID,
			name: item.Name,
			pay: func(ctx context.Context) (*models.Effect, error) {
				return o.reconciler.Pay(ctx, item, now)
			},
		})
	}

	o.run(ctx, tasks, result)
	return result, nil
}

// PayAllDueForOwner loads the owner's active items and runs
// PayAllDueInPeriod over them.
func (o *BatchPaymentOrchestrator) PayAllDueForOwner(ctx context.Context, ownerID string, start, end, now time.Time) (*BatchResult, error) {
	items, err := o.reconciler.store.ListItems(ctx, store.ItemFilter{OwnerID: ownerID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	return o.PayAllDueInPeriod(ctx, items, start, end, now)
}

// PayInstallmentsDueInPeriod pays every unpaid installment line of the
// owner due in [start, end], the equivalent of settling a card bill for a
// month.
func (o *BatchPaymentOrchestrator) PayInstallmentsDueInPeriod(
	ctx context.Context,
	ownerID string,
	start, end, now time.Time,
) (*BatchResult, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	if !o.running.CAS(false, true) {
		return nil, errors.PaymentError(errors.CodeAlreadyProcessing, "batch", nil).
			WithSuggestion("wait for the running batch to finish")
	}
	defer o.running.Store(false)

	lines, err := o.reconciler.store.ListInstallmentLines(ctx, store.InstallmentFilter{
		OwnerID:    ownerID,
		UnpaidOnly: true,
		DueFrom:    &start,
		DueTo:      &end,
	})
	if err != nil {
		return nil, err
	}
	due := SelectDueLines(lines, start, end)

	result := newBatchResult(start, end)
	result.Selection = SelectionStats{Considered: len(lines), Eligible: len(due)}

	o.logger.WithFields(logger.Fields{
		"owner_id":     ownerID,
		"period_start": start.Format(models.DateLayout),
		"period_end":   end.Format(models.DateLayout),
		"lines":        len(due),
	}).Info("Starting installment batch payment")

	tasks := make([]batchTask, 0, len(due))
	for _, line := range due {
		line := line
		tasks = append(tasks, batchTask{
			id:   line.ID,
			name: line.Label(),
			pay: func(ctx context.Context) (*models.Effect, error) {
				return o.reconciler.PayInstallment(ctx, line, now)
			},
		})
	}

	o.run(ctx, tasks, result)
	return result, nil
}

type batchTask struct {
	id   string
	name string
	pay  func(ctx context.Context) (*models.Effect, error)
}

// run executes tasks in order. Cancelling ctx stops the batch between
// items; the item in flight always completes.
func (o *BatchPaymentOrchestrator) run(ctx context.Context, tasks []batchTask, result *BatchResult) {
	o.initializeProgress(len(tasks))
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "batch_payment",
		Total:     int64(len(tasks)),
		Logger:    o.logger,
	})

	delay := o.reconciler.config.InterItemDelay
	for i, task := range tasks {
		if i > 0 && delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				o.skipRemaining(tasks[i:], result)
				break
			}
		}
		if ctx.Err() != nil {
			o.skipRemaining(tasks[i:], result)
			break
		}

		effect, err := task.pay(ctx)
		switch {
		case err == nil:
			result.Succeeded = append(result.Succeeded, task.id)
			result.Effects = append(result.Effects, effect)
			result.TotalPaid = result.TotalPaid.Add(effect.Entry.Amount)
		case IsSettledOutcome(err):
			o.logger.WithField("item_id", task.id).WithError(err).Debug("Item already settled, skipping")
			result.Skipped = append(result.Skipped, skipped(task.id, task.name, SkipAlreadySettled))
		default:
			o.logger.WithField("item_id", task.id).WithError(err).Warn("Payment failed")
			result.Failed = append(result.Failed, failed(task.id, task.name, err))
		}

		tracker.Increment(err != nil && !IsSettledOutcome(err))
		o.updateProgress(task.name, result)
	}

	result.Duration = time.Since(result.StartedAt)
	if len(result.Failed) > 0 {
		tracker.CompleteWithError(result.Err())
	} else {
		tracker.Complete()
	}

	o.logger.WithFields(logger.Fields{
		"succeeded":  len(result.Succeeded),
		"failed":     len(result.Failed),
		"skipped":    len(result.Skipped),
		"total_paid": result.TotalPaid.StringFixed(2),
		"duration":   result.Duration,
	}).Info("Batch payment completed")

	if o.reconciler.config.NotifyOnBatch {
		notify.Send(context.WithoutCancel(ctx), o.notifier, result.Summary(), o.logger)
	}
}

func (o *BatchPaymentOrchestrator) skipRemaining(tasks []batchTask, result *BatchResult) {
	o.logger.WithField("remaining", len(tasks)).Warn("Batch cancelled, remaining items left unpaid")
	for _, task := range tasks {
		result.Skipped = append(result.Skipped, skipped(task.id, task.name, SkipCancelled))
	}
}

func (o *BatchPaymentOrchestrator) initializeProgress(total int) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.currentProgress = &BatchProgress{
		Total:     total,
		StartTime: time.Now(),
	}
}

func (o *BatchPaymentOrchestrator) updateProgress(current string, result *BatchResult) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	p := o.currentProgress
	p.Processed++
	p.CurrentItem = current
	p.Succeeded = len(result.Succeeded)
	p.Failed = len(result.Failed)
	p.Skipped = len(result.Skipped)
	p.Elapsed = time.Since(p.StartTime)
	if p.Total > 0 {
		p.Percent = float64(p.Processed) / float64(p.Total) * 100
	}

	snapshot := *p
	for _, callback := range o.progressCallbacks {
		callback(&snapshot)
	}
}

func newBatchResult(start, end time.Time) *BatchResult {
	return &BatchResult{
		PeriodStart: start,
		PeriodEnd:   end,
		Succeeded:   []string{},
		Failed:      []FailedPayment{},
		Skipped:     []SkippedPayment{},
		TotalPaid:   decimal.Zero,
		StartedAt:   time.Now(),
	}
}

func failed(id, name string, err error) FailedPayment {
	return FailedPayment{
		ItemID:  id,
		Name:    name,
		Code:    errors.CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

func skipped(id, name string, reason SkipReason) SkippedPayment {
	return SkippedPayment{ItemID: id, Name: name, Reason: reason}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
