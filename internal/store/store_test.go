package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	config := DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "billing.db")

	s, err := Open(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newItem(owner, name string, last *time.Time) *models.RecurringItem {
	return &models.RecurringItem{
		OwnerID:     owner,
		Name:        name,
		Amount:      decimal.RequireFromString("39.90"),
		Frequency:   models.FrequencyMonthly,
		AnchorDay:   31,
		LastCharged: last,
		Active:      true,
	}
}

func deposit(t *testing.T, s *SQLStore, owner string, amount string) {
	t.Helper()
	err := s.InsertLedgerEntry(context.Background(), &models.LedgerEntry{
		OwnerID:     owner,
		Kind:        models.EntryIncome,
		Amount:      decimal.RequireFromString(amount),
		Description: "salary",
		OccurredOn:  day(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"postgres", &Config{Driver: DialectPostgres, DSN: "postgres://localhost/billing", MaxOpenConns: 5}, false},
		{"unknown driver", &Config{Driver: "mysql", DSN: "x", MaxOpenConns: 1}, true},
		{"empty dsn", &Config{Driver: DialectSQLite, DSN: " ", MaxOpenConns: 1}, true},
		{"no connections", &Config{Driver: DialectSQLite, DSN: "x.db", MaxOpenConns: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	if got != "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)" {
		t.Errorf("unexpected postgres query: %s", got)
	}

	lite := &SQLStore{dialect: DialectSQLite}
	if q := "SELECT ? FROM t"; lite.rebind(q) != q {
		t.Errorf("sqlite query should be unchanged, got %s", lite.rebind(q))
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	config := DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "billing.db")

	v1, err := Migrate(config, MigrateUp)
	if err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	v2, err := Migrate(config, MigrateUp)
	if err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if v1 != 1 || v2 != 1 {
		t.Errorf("expected schema version 1 twice, got %d and %d", v1, v2)
	}
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()
	config := DefaultConfig()
	config.DSN = ":memory:"

	s, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	defer s.Close()

	item := newItem("alice", "Spotify", nil)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create on in-memory store failed: %v", err)
	}
	got, err := s.GetItem(ctx, "alice", item.ID)
	if err != nil {
		t.Fatalf("get on in-memory store failed: %v", err)
	}
	if got.Name != "Spotify" {
		t.Errorf("expected Spotify, got %s", got.Name)
	}
}

func TestItemCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	last := day(2024, 1, 31)
	item := newItem("alice", "Netflix", &last)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	got, err := s.GetItem(ctx, "alice", item.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Amount.Equal(item.Amount) || got.LastCharged == nil || !got.LastCharged.Equal(last) {
		t.Errorf("round trip mismatch: %s", got)
	}

	if _, err := s.GetItem(ctx, "bob", item.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not_found for another owner, got %v", err)
	}

	name := "Netflix Premium"
	amount := decimal.RequireFromString("55.90")
	updated, err := s.UpdateItem(ctx, "alice", item.ID, ItemPatch{Name: &name, Amount: &amount})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != name || !updated.Amount.Equal(amount) {
		t.Errorf("update not applied: %s", updated)
	}

	badAnchor := 40
	if _, err := s.UpdateItem(ctx, "alice", item.ID, ItemPatch{AnchorDay: &badAnchor}); err == nil {
		t.Error("expected validation error for anchor 40")
	}

	if err := s.CreateItem(ctx, newItem("alice", "Gym", nil)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	items, err := s.ListItems(ctx, ItemFilter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Gym" {
		t.Errorf("expected 2 items ordered by name, got %v", items)
	}

	if err := s.DeleteItem(ctx, "alice", item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.DeleteItem(ctx, "alice", item.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not_found on second delete, got %v", err)
	}
}

func TestProcessRecurringPayment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	last := day(2024, 1, 31)
	item := newItem("alice", "Netflix", &last)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	req := PaymentRequest{
		ItemID:              item.ID,
		OwnerID:             "alice",
		ExpectedLastCharged: &last,
		NewLastCharged:      day(2024, 2, 29),
		Amount:              item.Amount,
		Description:         "Netflix (cycle 1)",
		OccurredOn:          day(2024, 3, 1),
	}

	effect, err := s.ProcessRecurringPayment(ctx, req)
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if effect.Cycle != 1 || effect.Entry == nil || effect.Entry.RecurringItemID != item.ID {
		t.Errorf("unexpected effect: %+v", effect)
	}

	got, _ := s.GetItem(ctx, "alice", item.ID)
	if got.LastCharged == nil || !got.LastCharged.Equal(day(2024, 2, 29)) || got.CyclesPaid != 1 {
		t.Errorf("item not advanced: %s cycles=%d", got, got.CyclesPaid)
	}

	// Replaying the same request must be rejected without a second entry.
	if _, err := s.ProcessRecurringPayment(ctx, req); !errors.IsCode(err, errors.CodeAlreadyProcessing) {
		t.Errorf("expected already_processing on replay, got %v", err)
	}
	entries, _ := s.ListLedgerEntries(ctx, LedgerFilter{OwnerID: "alice"})
	if len(entries) != 1 {
		t.Errorf("expected exactly 1 ledger entry, got %d", len(entries))
	}

	missing := req
	missing.ItemID = "does-not-exist"
	if _, err := s.ProcessRecurringPayment(ctx, missing); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestProcessRecurringPayment_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	item := newItem("alice", "Rent", nil)
	item.Amount = decimal.NewFromInt(1000)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	deposit(t, s, "alice", "999.99")

	_, err := s.ProcessRecurringPayment(ctx, PaymentRequest{
		ItemID:         item.ID,
		OwnerID:        "alice",
		NewLastCharged: day(2024, 5, 31),
		Amount:         item.Amount,
		Description:    "Rent (cycle 1)",
		OccurredOn:     day(2024, 5, 31),
		EnforceBalance: true,
	})
	if !errors.IsCode(err, errors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}

	got, _ := s.GetItem(ctx, "alice", item.ID)
	if got.LastCharged != nil || got.CyclesPaid != 0 {
		t.Errorf("item must be untouched after a rejected payment: %s", got)
	}
	balance, _ := s.Balance(ctx, "alice")
	if !balance.Equal(decimal.RequireFromString("999.99")) {
		t.Errorf("balance changed after a rejected payment: %s", balance)
	}
}

// failUpdates makes every UPDATE on table abort, so a payment fails after
// its ledger entry has been inserted.
func failUpdates(t *testing.T, s *SQLStore, table string) {
	t.Helper()
	_, err := s.DB().Exec(`CREATE TRIGGER fail_` + table + ` BEFORE UPDATE ON ` + table + `
		BEGIN SELECT RAISE(ABORT, 'update blocked'); END`)
	if err != nil {
		t.Fatalf("failed to install trigger: %v", err)
	}
}

func expenseCount(t *testing.T, s *SQLStore, owner string) int {
	t.Helper()
	entries, err := s.ListLedgerEntries(context.Background(), LedgerFilter{OwnerID: owner, Kind: models.EntryExpense})
	if err != nil {
		t.Fatalf("list ledger failed: %v", err)
	}
	return len(entries)
}

func TestProcessRecurringPayment_RollsBackEntryOnUpdateFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	last := day(2024, 1, 31)
	item := newItem("alice", "Netflix", &last)
	if err := s.CreateItem(ctx, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	failUpdates(t, s, "recurring_items")

	_, err := s.ProcessRecurringPayment(ctx, PaymentRequest{
		ItemID:              item.ID,
		OwnerID:             "alice",
		ExpectedLastCharged: &last,
		NewLastCharged:      day(2024, 2, 29),
		Amount:              item.Amount,
		Description:         "Netflix (cycle 1)",
		OccurredOn:          day(2024, 3, 1),
	})
	if !errors.IsCode(err, errors.CodeStorageFailure) {
		t.Fatalf("expected storage_failure, got %v", err)
	}

	if n := expenseCount(t, s, "alice"); n != 0 {
		t.Errorf("expected no ledger entry after rollback, got %d", n)
	}
	got, _ := s.GetItem(ctx, "alice", item.ID)
	if got.LastCharged == nil || !got.LastCharged.Equal(last) || got.CyclesPaid != 0 {
		t.Errorf("item must keep its last charge after rollback: %s cycles=%d", got, got.CyclesPaid)
	}
}

func TestProcessInstallmentPayment_RollsBackEntryOnUpdateFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lines := installmentLines("alice", "TV")
	if err := s.CreateInstallmentLines(ctx, lines); err != nil {
		t.Fatalf("create lines failed: %v", err)
	}
	failUpdates(t, s, "installment_lines")

	_, err := s.ProcessInstallmentPayment(ctx, InstallmentPaymentRequest{
		LineID:  lines[0].ID,
		OwnerID: "alice",
		PaidAt:  day(2024, 5, 15),
	})
	if !errors.IsCode(err, errors.CodeStorageFailure) {
		t.Fatalf("expected storage_failure, got %v", err)
	}

	if n := expenseCount(t, s, "alice"); n != 0 {
		t.Errorf("expected no ledger entry after rollback, got %d", n)
	}
	got, err := s.GetInstallmentLine(ctx, "alice", lines[0].ID)
	if err != nil {
		t.Fatalf("get line failed: %v", err)
	}
	if got.IsPaid || got.PaidAt != nil || got.LedgerEntryID != "" {
		t.Errorf("line must stay unpaid after rollback: %+v", got)
	}
}

func TestPaymentRequest_Validate(t *testing.T) {
	last := day(2024, 3, 31)
	req := PaymentRequest{
		ItemID:              "x",
		OwnerID:             "o",
		ExpectedLastCharged: &last,
		NewLastCharged:      day(2024, 3, 31),
		Amount:              decimal.NewFromInt(1),
		OccurredOn:          day(2024, 4, 1),
	}
	if err := req.Validate(); err == nil {
		t.Error("expected error when the new date does not advance")
	}

	req.NewLastCharged = day(2024, 4, 30)
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func installmentLines(owner, name string) []*models.InstallmentLine {
	first := day(2024, 5, 15)
	var lines []*models.InstallmentLine
	for i := 1; i <= 3; i++ {
		lines = append(lines, &models.InstallmentLine{
			OwnerID:          owner,
			PurchaseName:     name,
			Index:            i,
			TotalCount:       3,
			Amount:           decimal.NewFromInt(400),
			FirstPaymentDate: first,
			DueDate:          first.AddDate(0, i-1, 0),
		})
	}
	return lines
}

func TestInstallmentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	deposit(t, s, "alice", "5000")

	lines := installmentLines("alice", "TV")
	if err := s.CreateInstallmentLines(ctx, lines); err != nil {
		t.Fatalf("create lines failed: %v", err)
	}
	if err := s.CreateInstallmentLines(ctx, installmentLines("alice", "TV")); err == nil {
		t.Error("expected duplicate purchase name to be rejected")
	}

	listed, err := s.ListInstallmentLines(ctx, InstallmentFilter{OwnerID: "alice", PurchaseName: "TV"})
	if err != nil || len(listed) != 3 {
		t.Fatalf("expected 3 lines, got %d (%v)", len(listed), err)
	}

	effect, err := s.ProcessInstallmentPayment(ctx, InstallmentPaymentRequest{
		LineID:         lines[0].ID,
		OwnerID:        "alice",
		PaidAt:         day(2024, 5, 15),
		EnforceBalance: true,
	})
	if err != nil {
		t.Fatalf("installment payment failed: %v", err)
	}
	if effect.Entry.Description != "TV (1/3)" {
		t.Errorf("unexpected description %q", effect.Entry.Description)
	}

	if _, err := s.ProcessInstallmentPayment(ctx, InstallmentPaymentRequest{
		LineID: lines[0].ID, OwnerID: "alice", PaidAt: day(2024, 5, 16),
	}); !errors.IsCode(err, errors.CodeAlreadyProcessing) {
		t.Errorf("expected already_processing for a paid line, got %v", err)
	}

	sibling, _ := s.GetInstallmentLine(ctx, "alice", lines[1].ID)
	if sibling.IsPaid {
		t.Error("paying line 1 must not touch line 2")
	}

	if _, err := s.UpdateInstallmentLineAmount(ctx, "alice", lines[0].ID, decimal.NewFromInt(1)); !errors.IsCode(err, errors.CodeAlreadyProcessing) {
		t.Errorf("expected paid line edit to be rejected, got %v", err)
	}
	edited, err := s.UpdateInstallmentLineAmount(ctx, "alice", lines[2].ID, decimal.RequireFromString("399.99"))
	if err != nil || !edited.Amount.Equal(decimal.RequireFromString("399.99")) {
		t.Errorf("expected override on unpaid line, got %v (%v)", edited, err)
	}

	_, err = s.DeleteInstallmentPurchase(ctx, "alice", "TV")
	if !errors.IsCode(err, errors.CodePurchaseNotSettled) {
		t.Fatalf("expected purchase_not_settled, got %v", err)
	}
	if be, _ := errors.AsBillingError(err); be.Context["unpaid_lines"] != 2 {
		t.Errorf("expected unpaid_lines=2 in context, got %v", be.Context["unpaid_lines"])
	}

	result, err := s.CancelInstallmentPurchase(ctx, "alice", "TV")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if result.LinesDeleted != 3 || len(result.ReversedEntries) != 1 {
		t.Errorf("unexpected cancel result: %+v", result)
	}

	remaining, _ := s.ListInstallmentLines(ctx, InstallmentFilter{OwnerID: "alice"})
	if len(remaining) != 0 {
		t.Errorf("expected no lines after cancel, got %d", len(remaining))
	}
	balance, _ := s.Balance(ctx, "alice")
	if !balance.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected the reversed entry to restore the balance, got %s", balance)
	}
}

func TestDeleteInstallmentPurchase_FullyPaid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lines := installmentLines("alice", "Phone")
	if err := s.CreateInstallmentLines(ctx, lines); err != nil {
		t.Fatalf("create lines failed: %v", err)
	}
	for _, line := range lines {
		if _, err := s.ProcessInstallmentPayment(ctx, InstallmentPaymentRequest{
			LineID: line.ID, OwnerID: "alice", PaidAt: line.DueDate,
		}); err != nil {
			t.Fatalf("pay %d failed: %v", line.Index, err)
		}
	}

	n, err := s.DeleteInstallmentPurchase(ctx, "alice", "Phone")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted lines, got %d", n)
	}

	entries, _ := s.ListLedgerEntries(ctx, LedgerFilter{OwnerID: "alice", Kind: models.EntryExpense})
	if len(entries) != 3 {
		t.Errorf("expected paid expenses to remain in the ledger, got %d", len(entries))
	}

	if _, err := s.DeleteInstallmentPurchase(ctx, "alice", "Phone"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestListLedgerEntries_Filters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, d := range []time.Time{day(2024, 1, 5), day(2024, 2, 5), day(2024, 3, 5)} {
		if err := s.InsertLedgerEntry(ctx, &models.LedgerEntry{
			OwnerID:     "alice",
			Kind:        models.EntryExpense,
			Amount:      decimal.NewFromInt(int64(10 * (i + 1))),
			Description: "coffee",
			OccurredOn:  d,
		}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	from, to := day(2024, 2, 1), day(2024, 3, 31)
	entries, err := s.ListLedgerEntries(ctx, LedgerFilter{OwnerID: "alice", From: &from, To: &to})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || !entries[0].OccurredOn.Equal(day(2024, 3, 5)) {
		t.Errorf("expected 2 entries newest first, got %v", entries)
	}

	limited, _ := s.ListLedgerEntries(ctx, LedgerFilter{OwnerID: "alice", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}

	balance, _ := s.Balance(ctx, "alice")
	if !balance.Equal(decimal.NewFromInt(-60)) {
		t.Errorf("expected balance -60, got %s", balance)
	}
}
