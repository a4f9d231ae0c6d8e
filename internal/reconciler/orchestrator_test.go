package reconciler

import (
	"context"
	stderrors "errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
)

// faultyStore fails the payment procedure for selected items.
type faultyStore struct {
	store.Store
	failFor map[string]bool
	calls   []string
}

func (f *faultyStore) ProcessRecurringPayment(ctx context.Context, req store.PaymentRequest) (*models.Effect, error) {
	f.calls = append(f.calls, req.ItemID)
	if f.failFor[req.ItemID] {
		return nil, errors.StorageError("process recurring payment", stderrors.New("connection reset by peer"))
	}
	return f.Store.ProcessRecurringPayment(ctx, req)
}

func newTestOrchestrator(t *testing.T, st store.Store, notifier notify.Notifier) *BatchPaymentOrchestrator {
	t.Helper()
	orch, err := NewBatchPaymentOrchestrator(newTestReconciler(t, st, nil), notifier)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orch
}

func TestNewBatchPaymentOrchestrator_RequiresReconciler(t *testing.T) {
	if _, err := NewBatchPaymentOrchestrator(nil, nil); err == nil {
		t.Error("expected error for nil reconciler")
	}
}

func TestPayAllDueInPeriod_PartialFailure(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	faulty := &faultyStore{Store: base, failFor: map[string]bool{"2": true}}
	orch := newTestOrchestrator(t, faulty, nil)

	last := day(2024, 4, 10)
	items := []*models.RecurringItem{
		createItem(t, base, "1", 10, &last),
		createItem(t, base, "2", 10, &last),
		createItem(t, base, "3", 10, &last),
	}

	result, err := orch.PayAllDueInPeriod(ctx, items, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 20))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}

	if !reflect.DeepEqual(result.Succeeded, []string{"1", "3"}) {
		t.Errorf("expected succeeded [1 3], got %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].ItemID != "2" || result.Failed[0].Code != errors.CodeStorageFailure {
		t.Errorf("expected item 2 to fail with storage_failure, got %+v", result.Failed)
	}
	if !reflect.DeepEqual(faulty.calls, []string{"1", "2", "3"}) {
		t.Errorf("expected sequential calls in input order, got %v", faulty.calls)
	}

	for _, id := range []string{"1", "3"} {
		if got := reload(t, base, id); !got.LastCharged.Equal(day(2024, 5, 10)) {
			t.Errorf("item %s not advanced: %s", id, got.LastCharged)
		}
	}
	if got := reload(t, base, "2"); !got.LastCharged.Equal(last) || got.CyclesPaid != 0 {
		t.Errorf("failed item must be untouched, got %s", got.LastCharged)
	}

	if result.TotalPaid.StringFixed(2) != "51.00" {
		t.Errorf("expected total paid 51.00, got %s", result.TotalPaid.StringFixed(2))
	}
	if err := result.Err(); err == nil || len(multierr.Errors(err)) != 1 {
		t.Errorf("expected one combined failure, got %v", err)
	}
}

func TestPayAllDueInPeriod_Selection(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	last := day(2024, 4, 10)
	settled := day(2024, 5, 10)
	due := createItem(t, st, "due", 10, &last)
	later := createItem(t, st, "later", 25, &last)
	paid := createItem(t, st, "paid", 10, &settled)
	inactive := createItem(t, st, "inactive", 10, &last)
	inactive.Active = false

	result, err := orch.PayAllDueInPeriod(ctx,
		[]*models.RecurringItem{due, later, paid, inactive},
		day(2024, 5, 1), day(2024, 5, 20), day(2024, 5, 20))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}

	if !reflect.DeepEqual(result.Succeeded, []string{"due"}) {
		t.Errorf("expected only 'due' to be paid, got %v", result.Succeeded)
	}

	reasons := map[string]SkipReason{}
	for _, s := range result.Skipped {
		reasons[s.ItemID] = s.Reason
	}
	want := map[string]SkipReason{
		"later":    SkipOutsidePeriod,
		"paid":     SkipOutsidePeriod,
		"inactive": SkipInactive,
	}
	if !reflect.DeepEqual(reasons, want) {
		t.Errorf("unexpected skip reasons: %v", reasons)
	}
	if result.Selection.Considered != 4 || result.Selection.Eligible != 1 {
		t.Errorf("unexpected selection stats: %+v", result.Selection)
	}
}

func TestSelectDueItems_NotPayableAndInvalid(t *testing.T) {
	settled := day(2024, 5, 10)
	paid := &models.RecurringItem{ID: "paid", Name: "paid", Frequency: models.FrequencyMonthly, AnchorDay: 10,
		LastCharged: &settled, Active: true}
	broken := &models.RecurringItem{ID: "broken", Name: "broken", Frequency: "hourly", AnchorDay: 10, Active: true}

	// A period covering the next cycle, queried before it is reached.
	sel := SelectDueItems([]*models.RecurringItem{paid, broken, nil}, day(2024, 6, 1), day(2024, 6, 30), day(2024, 5, 20))

	if len(sel.Eligible) != 0 {
		t.Errorf("expected nothing eligible, got %d", len(sel.Eligible))
	}
	if sel.Stats.NotPayable != 1 || sel.Stats.Invalid != 1 || sel.Stats.Considered != 2 {
		t.Errorf("unexpected stats: %+v", sel.Stats)
	}
	if len(sel.Invalid) != 1 || sel.Invalid[0].Code != errors.CodeInvalidSchedule {
		t.Errorf("expected the broken item as invalid_schedule, got %+v", sel.Invalid)
	}
}

func TestPayAllDueInPeriod_RejectsOverlap(t *testing.T) {
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	orch.running.Store(true)
	_, err := orch.PayAllDueInPeriod(context.Background(), nil, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 1))
	if !errors.IsCode(err, errors.CodeAlreadyProcessing) {
		t.Errorf("expected already_processing for an overlapping batch, got %v", err)
	}

	orch.running.Store(false)
	if _, err := orch.PayAllDueInPeriod(context.Background(), nil, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 1)); err != nil {
		t.Errorf("expected an empty batch to succeed, got %v", err)
	}
	if orch.Running() {
		t.Error("expected the batch flag to be cleared")
	}
}

func TestPayAllDueInPeriod_InvalidPeriod(t *testing.T) {
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	_, err := orch.PayAllDueInPeriod(context.Background(), nil, day(2024, 6, 1), day(2024, 5, 1), day(2024, 5, 1))
	if !errors.IsCode(err, errors.CodeOutOfRange) {
		t.Errorf("expected out_of_range, got %v", err)
	}
}

func TestPayAllDueInPeriod_NotifiesSummary(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var messages []notify.Message
	orch := newTestOrchestrator(t, st, notify.Func(func(_ context.Context, msg notify.Message) error {
		messages = append(messages, msg)
		return stderrors.New("delivery failed")
	}))

	last := day(2024, 4, 10)
	items := []*models.RecurringItem{createItem(t, st, "a", 10, &last)}

	result, err := orch.PayAllDueInPeriod(ctx, items, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 10))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}
	if len(result.Succeeded) != 1 {
		t.Errorf("a failing notifier must not change the result, got %+v", result)
	}
	if len(messages) != 1 {
		t.Fatalf("expected one summary notification, got %d", len(messages))
	}
	if !strings.Contains(messages[0].Body, "1 paid (total 25.50)") || !strings.Contains(messages[0].Title, "2024-05-01") {
		t.Errorf("unexpected summary: %+v", messages[0])
	}
}

func TestPayAllDueInPeriod_CancelBetweenItems(t *testing.T) {
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	last := day(2024, 4, 10)
	items := []*models.RecurringItem{
		createItem(t, st, "a", 10, &last),
		createItem(t, st, "b", 10, &last),
		createItem(t, st, "c", 10, &last),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var progress []BatchProgress
	orch.AddProgressCallback(func(p *BatchProgress) {
		progress = append(progress, *p)
		cancel()
	})

	result, err := orch.PayAllDueInPeriod(ctx, items, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 10))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}
	if !reflect.DeepEqual(result.Succeeded, []string{"a"}) {
		t.Errorf("expected only the first item paid, got %v", result.Succeeded)
	}
	if len(result.Skipped) != 2 || result.Skipped[0].Reason != SkipCancelled {
		t.Errorf("expected the rest skipped as cancelled, got %+v", result.Skipped)
	}
	if len(progress) != 1 || progress[0].Processed != 1 || progress[0].Total != 3 {
		t.Errorf("unexpected progress reports: %+v", progress)
	}
}

func TestPayAllDueInPeriod_InterItemDelay(t *testing.T) {
	st := newTestStore(t)
	config := testConfig()
	config.InterItemDelay = 50 * time.Millisecond
	orch, _ := NewBatchPaymentOrchestrator(newTestReconciler(t, st, config), nil)

	var slept []time.Duration
	orch.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	last := day(2024, 4, 10)
	items := []*models.RecurringItem{
		createItem(t, st, "a", 10, &last),
		createItem(t, st, "b", 10, &last),
		createItem(t, st, "c", 10, &last),
	}
	if _, err := orch.PayAllDueInPeriod(context.Background(), items, day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 10)); err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}
	if len(slept) != 2 {
		t.Errorf("expected a pause between each pair of items, got %v", slept)
	}
}

func TestPayAllDueForOwner(t *testing.T) {
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	last := day(2024, 4, 10)
	createItem(t, st, "a", 10, &last)
	createItem(t, st, "b", 12, &last)

	result, err := orch.PayAllDueForOwner(context.Background(), "alice", day(2024, 5, 1), day(2024, 5, 31), day(2024, 5, 15))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}
	if len(result.Succeeded) != 2 {
		t.Errorf("expected both items paid, got %v", result.Succeeded)
	}
}

func TestPayInstallmentsDueInPeriod(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	orch := newTestOrchestrator(t, st, nil)

	lines := createLines(t, st, "Laptop")

	result, err := orch.PayInstallmentsDueInPeriod(ctx, "alice", day(2024, 5, 1), day(2024, 6, 30), day(2024, 6, 1))
	if err != nil {
		t.Fatalf("batch returned an error: %v", err)
	}
	if !reflect.DeepEqual(result.Succeeded, []string{lines[0].ID, lines[1].ID}) {
		t.Errorf("expected lines 1 and 2 paid, got %v", result.Succeeded)
	}
	if result.TotalPaid.StringFixed(2) != "800.00" {
		t.Errorf("expected 800.00 paid, got %s", result.TotalPaid.StringFixed(2))
	}

	third, _ := st.GetInstallmentLine(ctx, "alice", lines[2].ID)
	if third.IsPaid {
		t.Error("line 3 is due in July and must stay unpaid")
	}

	again, err := orch.PayInstallmentsDueInPeriod(ctx, "alice", day(2024, 5, 1), day(2024, 6, 30), day(2024, 6, 1))
	if err != nil {
		t.Fatalf("second batch returned an error: %v", err)
	}
	if len(again.Succeeded) != 0 || len(again.Failed) != 0 {
		t.Errorf("expected nothing left to pay, got %+v", again)
	}
}
