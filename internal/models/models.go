package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

// Frequency is the renewal cadence of a recurring item.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyMonthly      Frequency = "monthly"
	FrequencySemiannually Frequency = "semiannually"
	FrequencyAnnually     Frequency = "annually"
)

// String returns the string representation of Frequency
func (f Frequency) String() string {
	return string(f)
}

// IsValid checks if the frequency is one of the five known classes
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencySemiannually, FrequencyAnnually:
		return true
	default:
		return false
	}
}

// UsesAnchorDay reports whether due dates are pinned to a day-of-month.
func (f Frequency) UsesAnchorDay() bool {
	return f == FrequencyMonthly || f == FrequencySemiannually || f == FrequencyAnnually
}

// ParseFrequency parses a frequency name. The Portuguese names stored by the
// mobile client are accepted as aliases.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "diario", "diária", "diaria":
		return FrequencyDaily, nil
	case "weekly", "semanal":
		return FrequencyWeekly, nil
	case "monthly", "mensal":
		return FrequencyMonthly, nil
	case "semiannually", "semiannual", "semestral":
		return FrequencySemiannually, nil
	case "annually", "annual", "yearly", "anual":
		return FrequencyAnnually, nil
	default:
		return "", fmt.Errorf("unknown frequency: %q", s)
	}
}

// RecurringItem is a subscription or bill reminder charged once per cycle.
type RecurringItem struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   Frequency       `json:"frequency"`
	AnchorDay   int             `json:"anchor_day"`
	LastCharged *time.Time      `json:"last_charged,omitempty"`
	CyclesPaid  int             `json:"cycles_paid"`
	CategoryID  string          `json:"category_id,omitempty"`
	Icon        string          `json:"icon,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate performs basic validation on the RecurringItem
func (r *RecurringItem) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount.String())
	}
	if !r.Frequency.IsValid() {
		return fmt.Errorf("invalid frequency: %s", r.Frequency)
	}
	if r.AnchorDay < 1 || r.AnchorDay > 31 {
		return fmt.Errorf("anchor day must be between 1 and 31, got %d", r.AnchorDay)
	}
	if r.CyclesPaid < 0 {
		return fmt.Errorf("cycles paid cannot be negative")
	}
	return nil
}

// String returns a string representation of the RecurringItem
func (r *RecurringItem) String() string {
	last := "never"
	if r.LastCharged != nil {
		last = r.LastCharged.Format(DateLayout)
	}
	return fmt.Sprintf("RecurringItem{ID: %s, Name: %s, Amount: %s, Frequency: %s, LastCharged: %s}",
		r.ID, r.Name, r.Amount.String(), r.Frequency, last)
}

// MarshalJSON renders dates as calendar days
func (r *RecurringItem) MarshalJSON() ([]byte, error) {
	type Alias RecurringItem
	var last *string
	if r.LastCharged != nil {
		s := r.LastCharged.Format(DateLayout)
		last = &s
	}
	return json.Marshal(&struct {
		Amount      string  `json:"amount"`
		LastCharged *string `json:"last_charged,omitempty"`
		*Alias
	}{
		Amount:      r.Amount.StringFixed(2),
		LastCharged: last,
		Alias:       (*Alias)(r),
	})
}

// InstallmentLine is one of N sub-obligations of an installment purchase.
type InstallmentLine struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	PurchaseName     string          `json:"purchase_name"`
	Index            int             `json:"index"`
	TotalCount       int             `json:"total_count"`
	Amount           decimal.Decimal `json:"amount"`
	FirstPaymentDate time.Time       `json:"first_payment_date"`
	DueDate          time.Time       `json:"due_date"`
	IsPaid           bool            `json:"is_paid"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	LedgerEntryID    string          `json:"ledger_entry_id,omitempty"`
	CategoryID       string          `json:"category_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate performs basic validation on the InstallmentLine
func (l *InstallmentLine) Validate() error {
	if strings.TrimSpace(l.OwnerID) == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if strings.TrimSpace(l.PurchaseName) == "" {
		return fmt.Errorf("purchase name cannot be empty")
	}
	if l.TotalCount < 1 {
		return fmt.Errorf("total count must be at least 1, got %d", l.TotalCount)
	}
	if l.Index < 1 || l.Index > l.TotalCount {
		return fmt.Errorf("index %d out of range 1..%d", l.Index, l.TotalCount)
	}
	if !l.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", l.Amount.String())
	}
	if l.FirstPaymentDate.IsZero() || l.DueDate.IsZero() {
		return fmt.Errorf("payment dates cannot be zero")
	}
	if l.IsPaid != (l.PaidAt != nil) {
		return fmt.Errorf("paid flag and paid date disagree")
	}
	return nil
}

// Label returns the "i/N name" label used in ledger descriptions
func (l *InstallmentLine) Label() string {
	return fmt.Sprintf("%s (%d/%d)", l.PurchaseName, l.Index, l.TotalCount)
}

// MarshalJSON renders dates as calendar days
func (l *InstallmentLine) MarshalJSON() ([]byte, error) {
	type Alias InstallmentLine
	var paid *string
	if l.PaidAt != nil {
		s := l.PaidAt.Format(DateLayout)
		paid = &s
	}
	return json.Marshal(&struct {
		Amount           string  `json:"amount"`
		FirstPaymentDate string  `json:"first_payment_date"`
		DueDate          string  `json:"due_date"`
		PaidAt           *string `json:"paid_at,omitempty"`
		*Alias
	}{
		Amount:           l.Amount.StringFixed(2),
		FirstPaymentDate: l.FirstPaymentDate.Format(DateLayout),
		DueDate:          l.DueDate.Format(DateLayout),
		PaidAt:           paid,
		Alias:            (*Alias)(l),
	})
}

// InstallmentPurchase groups the sibling lines of one logical purchase.
type InstallmentPurchase struct {
	OwnerID         string             `json:"owner_id"`
	Name            string             `json:"name"`
	TotalCount      int                `json:"total_count"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	PaidAmount      decimal.Decimal    `json:"paid_amount"`
	RemainingAmount decimal.Decimal    `json:"remaining_amount"`
	PaidCount       int                `json:"paid_count"`
	Lines           []*InstallmentLine `json:"lines"`
}

// NewInstallmentPurchase aggregates lines that share owner and purchase name.
// Lines are expected in index order.
func NewInstallmentPurchase(lines []*InstallmentLine) *InstallmentPurchase {
	p := &InstallmentPurchase{
		TotalAmount:     decimal.Zero,
		PaidAmount:      decimal.Zero,
		RemainingAmount: decimal.Zero,
		Lines:           lines,
	}
	for _, l := range lines {
		p.OwnerID = l.OwnerID
		p.Name = l.PurchaseName
		p.TotalCount = l.TotalCount
		p.TotalAmount = p.TotalAmount.Add(l.Amount)
		if l.IsPaid {
			p.PaidCount++
			p.PaidAmount = p.PaidAmount.Add(l.Amount)
		} else {
			p.RemainingAmount = p.RemainingAmount.Add(l.Amount)
		}
	}
	return p
}

// FullyPaid reports whether every line has been paid
func (p *InstallmentPurchase) FullyPaid() bool {
	return len(p.Lines) > 0 && p.PaidCount == len(p.Lines)
}

// NextUnpaid returns the unpaid line with the lowest index, or nil
func (p *InstallmentPurchase) NextUnpaid() *InstallmentLine {
	for _, l := range p.Lines {
		if !l.IsPaid {
			return l
		}
	}
	return nil
}

// EntryKind distinguishes money in from money out.
type EntryKind string

const (
	EntryIncome  EntryKind = "income"
	EntryExpense EntryKind = "expense"
)

// IsValid checks if the entry kind is valid
func (k EntryKind) IsValid() bool {
	return k == EntryIncome || k == EntryExpense
}

// LedgerEntry is one transaction on the owner's ledger.
type LedgerEntry struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Kind              EntryKind       `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	CategoryID        string          `json:"category_id,omitempty"`
	RecurringItemID   string          `json:"recurring_item_id,omitempty"`
	InstallmentLineID string          `json:"installment_line_id,omitempty"`
	Cycle             int             `json:"cycle,omitempty"`
	OccurredOn        time.Time       `json:"occurred_on"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Validate performs basic validation on the LedgerEntry
func (e *LedgerEntry) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("invalid entry kind: %s", e.Kind)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", e.Amount.String())
	}
	if e.OccurredOn.IsZero() {
		return fmt.Errorf("occurred date cannot be zero")
	}
	return nil
}

// Signed returns the amount with expenses negated
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == EntryExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}

// MarshalJSON renders dates as calendar days
func (e *LedgerEntry) MarshalJSON() ([]byte, error) {
	type Alias LedgerEntry
	return json.Marshal(&struct {
		Amount     string `json:"amount"`
		OccurredOn string `json:"occurred_on"`
		*Alias
	}{
		Amount:     e.Amount.StringFixed(2),
		OccurredOn: e.OccurredOn.Format(DateLayout),
		Alias:      (*Alias)(e),
	})
}

// Effect is the record of one reconciliation: the ledger entry written and
// the state change applied to the item or line in the same transaction.
type Effect struct {
	Entry               *LedgerEntry `json:"entry"`
	RecurringItemID     string       `json:"recurring_item_id,omitempty"`
	InstallmentLineID   string       `json:"installment_line_id,omitempty"`
	PreviousLastCharged *time.Time   `json:"previous_last_charged,omitempty"`
	NewLastCharged      *time.Time   `json:"new_last_charged,omitempty"`
	Cycle               int          `json:"cycle"`
}

// ParseDecimalFromString parses a monetary amount, tolerating currency
// symbols and a comma decimal separator ("R$ 1.234,56").
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}
