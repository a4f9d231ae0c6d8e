package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input    string
		expected Frequency
		wantErr  bool
	}{
		{"monthly", FrequencyMonthly, false},
		{"MONTHLY", FrequencyMonthly, false},
		{"mensal", FrequencyMonthly, false},
		{"semanal", FrequencyWeekly, false},
		{"semestral", FrequencySemiannually, false},
		{"yearly", FrequencyAnnually, false},
		{" diario ", FrequencyDaily, false},
		{"fortnightly", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFrequency(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ParseFrequency(%q) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFrequency_UsesAnchorDay(t *testing.T) {
	if FrequencyDaily.UsesAnchorDay() || FrequencyWeekly.UsesAnchorDay() {
		t.Error("daily and weekly must not use the anchor day")
	}
	if !FrequencyMonthly.UsesAnchorDay() || !FrequencySemiannually.UsesAnchorDay() || !FrequencyAnnually.UsesAnchorDay() {
		t.Error("monthly-or-longer frequencies must use the anchor day")
	}
}

func validItem() *RecurringItem {
	return &RecurringItem{
		ID:        "item-1",
		OwnerID:   "owner",
		Name:      "Netflix",
		Amount:    decimal.RequireFromString("39.90"),
		Frequency: FrequencyMonthly,
		AnchorDay: 15,
		Active:    true,
	}
}

func TestRecurringItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RecurringItem)
		wantErr bool
	}{
		{"valid", func(*RecurringItem) {}, false},
		{"empty owner", func(r *RecurringItem) { r.OwnerID = "" }, true},
		{"empty name", func(r *RecurringItem) { r.Name = "  " }, true},
		{"zero amount", func(r *RecurringItem) { r.Amount = decimal.Zero }, true},
		{"negative amount", func(r *RecurringItem) { r.Amount = decimal.NewFromInt(-1) }, true},
		{"bad frequency", func(r *RecurringItem) { r.Frequency = "hourly" }, true},
		{"anchor zero", func(r *RecurringItem) { r.AnchorDay = 0 }, true},
		{"anchor 32", func(r *RecurringItem) { r.AnchorDay = 32 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem()
			tt.mutate(item)
			err := item.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRecurringItem_MarshalJSON(t *testing.T) {
	item := validItem()
	last := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	item.LastCharged = &last

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["amount"] != "39.90" {
		t.Errorf("expected amount '39.90', got %v", decoded["amount"])
	}
	if decoded["last_charged"] != "2024-01-31" {
		t.Errorf("expected last_charged '2024-01-31', got %v", decoded["last_charged"])
	}
	if decoded["frequency"] != "monthly" {
		t.Errorf("expected frequency 'monthly', got %v", decoded["frequency"])
	}
}

func TestInstallmentLine_Validate(t *testing.T) {
	first := time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC)
	line := &InstallmentLine{
		OwnerID:          "owner",
		PurchaseName:     "Notebook",
		Index:            1,
		TotalCount:       3,
		Amount:           decimal.NewFromInt(400),
		FirstPaymentDate: first,
		DueDate:          first,
	}
	if err := line.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line.Index = 4
	if err := line.Validate(); err == nil {
		t.Error("expected error for index beyond total count")
	}

	line.Index = 1
	line.IsPaid = true
	if err := line.Validate(); err == nil {
		t.Error("expected error when paid flag has no paid date")
	}
}

func TestNewInstallmentPurchase(t *testing.T) {
	paidAt := time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC)
	lines := []*InstallmentLine{
		{PurchaseName: "TV", OwnerID: "o", Index: 1, TotalCount: 3, Amount: decimal.NewFromInt(400), IsPaid: true, PaidAt: &paidAt},
		{PurchaseName: "TV", OwnerID: "o", Index: 2, TotalCount: 3, Amount: decimal.NewFromInt(400)},
		{PurchaseName: "TV", OwnerID: "o", Index: 3, TotalCount: 3, Amount: decimal.NewFromInt(400)},
	}

	p := NewInstallmentPurchase(lines)
	if !p.TotalAmount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected total 1200, got %s", p.TotalAmount)
	}
	if !p.RemainingAmount.Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected remaining 800, got %s", p.RemainingAmount)
	}
	if p.PaidCount != 1 || p.FullyPaid() {
		t.Errorf("expected 1 paid line and not fully paid, got %d", p.PaidCount)
	}
	if next := p.NextUnpaid(); next == nil || next.Index != 2 {
		t.Errorf("expected next unpaid line 2, got %+v", next)
	}
}

func TestLedgerEntry_Signed(t *testing.T) {
	expense := &LedgerEntry{Kind: EntryExpense, Amount: decimal.NewFromInt(10)}
	income := &LedgerEntry{Kind: EntryIncome, Amount: decimal.NewFromInt(10)}

	if !expense.Signed().Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected -10, got %s", expense.Signed())
	}
	if !income.Signed().Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected 10, got %s", income.Signed())
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"100.50", "100.5", false},
		{"R$ 1.234,56", "1234.56", false},
		{"$1,234.56", "1234.56", false},
		{"12,5", "12.5", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.expected {
				t.Errorf("ParseDecimalFromString(%q) = %s, want %s", tt.input, got.String(), tt.expected)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2024 || d.Month() != time.February || d.Day() != 29 {
		t.Errorf("unexpected date %v", d)
	}

	if _, err := ParseDate("2023-02-29"); err == nil {
		t.Error("expected error for non-existent date")
	}
	if _, err := ParseDate("15/05/2024"); err == nil || !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Errorf("expected layout hint in error, got %v", err)
	}
}
