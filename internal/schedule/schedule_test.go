package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func item(freq models.Frequency, anchor int, last *time.Time) *models.RecurringItem {
	return &models.RecurringItem{
		ID:          "item",
		OwnerID:     "owner",
		Name:        "Streaming",
		Amount:      decimal.NewFromInt(10),
		Frequency:   freq,
		AnchorDay:   anchor,
		LastCharged: last,
		Active:      true,
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name  string
		base  time.Time
		freq  models.Frequency
		count int
		want  time.Time
	}{
		{"daily", date(2024, 2, 28), models.FrequencyDaily, 2, date(2024, 3, 1)},
		{"weekly", date(2024, 12, 28), models.FrequencyWeekly, 1, date(2025, 1, 4)},
		{"monthly keeps day", date(2024, 1, 15), models.FrequencyMonthly, 1, date(2024, 2, 15)},
		{"monthly clamps leap", date(2024, 1, 31), models.FrequencyMonthly, 1, date(2024, 2, 29)},
		{"monthly clamps non-leap", date(2023, 1, 31), models.FrequencyMonthly, 1, date(2023, 2, 28)},
		{"monthly clamps april", date(2024, 3, 31), models.FrequencyMonthly, 1, date(2024, 4, 30)},
		{"monthly crosses year", date(2024, 11, 30), models.FrequencyMonthly, 3, date(2025, 2, 28)},
		{"semiannual", date(2024, 8, 31), models.FrequencySemiannually, 1, date(2025, 2, 28)},
		{"annual leap day", date(2024, 2, 29), models.FrequencyAnnually, 1, date(2025, 2, 28)},
		{"annual four years", date(2024, 2, 29), models.FrequencyAnnually, 4, date(2028, 2, 29)},
		{"zero count", date(2024, 5, 5), models.FrequencyMonthly, 0, date(2024, 5, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Add(tt.base, tt.freq, tt.count)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Add(%s, %s, %d) = %s, want %s",
					tt.base.Format(models.DateLayout), tt.freq, tt.count,
					got.Format(models.DateLayout), tt.want.Format(models.DateLayout))
			}
		})
	}
}

func TestAdd_NormalizesTimeOfDay(t *testing.T) {
	base := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	got, err := Add(base, models.FrequencyDaily, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(date(2024, 3, 11)) {
		t.Errorf("expected midnight of 2024-03-11, got %s", got)
	}
}

func TestAdd_Errors(t *testing.T) {
	tests := []struct {
		name  string
		base  time.Time
		freq  models.Frequency
		count int
	}{
		{"unknown frequency", date(2024, 1, 1), "hourly", 1},
		{"negative count", date(2024, 1, 1), models.FrequencyMonthly, -1},
		{"zero date", time.Time{}, models.FrequencyMonthly, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Add(tt.base, tt.freq, tt.count)
			if !errors.IsCode(err, errors.CodeInvalidSchedule) {
				t.Errorf("expected invalid_schedule, got %v", err)
			}
		})
	}
}

func TestAddAnchored_RecoversAnchorAfterClamp(t *testing.T) {
	feb, err := AddAnchored(date(2024, 1, 31), models.FrequencyMonthly, 1, 31)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !feb.Equal(date(2024, 2, 29)) {
		t.Fatalf("expected 2024-02-29, got %s", feb.Format(models.DateLayout))
	}

	mar, err := AddAnchored(feb, models.FrequencyMonthly, 1, 31)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mar.Equal(date(2024, 3, 31)) {
		t.Errorf("expected anchor to recover to 2024-03-31, got %s", mar.Format(models.DateLayout))
	}

	if _, err := AddAnchored(feb, models.FrequencyMonthly, 1, 32); !errors.IsCode(err, errors.CodeInvalidSchedule) {
		t.Errorf("expected invalid_schedule for anchor 32, got %v", err)
	}
}

func TestNextDueDate_WithLastCharged(t *testing.T) {
	tests := []struct {
		name   string
		freq   models.Frequency
		anchor int
		last   time.Time
		want   time.Time
	}{
		{"anchor 31 in leap february", models.FrequencyMonthly, 31, date(2024, 1, 31), date(2024, 2, 29)},
		{"anchor 31 after clamp", models.FrequencyMonthly, 31, date(2024, 2, 29), date(2024, 3, 31)},
		{"anchor 30 in february", models.FrequencyMonthly, 30, date(2023, 1, 30), date(2023, 2, 28)},
		{"weekly", models.FrequencyWeekly, 1, date(2024, 1, 1), date(2024, 1, 8)},
		{"daily", models.FrequencyDaily, 1, date(2024, 12, 31), date(2025, 1, 1)},
		{"semiannual", models.FrequencySemiannually, 15, date(2024, 1, 15), date(2024, 7, 15)},
		{"annual", models.FrequencyAnnually, 29, date(2024, 2, 29), date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDueDate(tt.freq, tt.anchor, ptr(tt.last), date(2030, 6, 1))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Format(models.DateLayout), tt.want.Format(models.DateLayout))
			}
		})
	}
}

func TestNextDueDate_IgnoresNowWhenCharged(t *testing.T) {
	last := date(2020, 3, 10)
	nows := []time.Time{date(2019, 1, 1), date(2020, 3, 10), date(2024, 8, 20), date(2099, 12, 31)}

	var first time.Time
	for i, now := range nows {
		got, err := NextDueDate(models.FrequencyMonthly, 10, &last, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i == 0 {
			first = got
			continue
		}
		if !got.Equal(first) {
			t.Errorf("result depends on now: %s vs %s", got, first)
		}
	}
	if !first.Equal(date(2020, 4, 10)) {
		t.Errorf("expected 2020-04-10, got %s", first.Format(models.DateLayout))
	}
}

func TestNextDueDate_NeverCharged(t *testing.T) {
	tests := []struct {
		name   string
		freq   models.Frequency
		anchor int
		now    time.Time
		want   time.Time
	}{
		{"anchor later this month", models.FrequencyMonthly, 20, date(2024, 5, 10), date(2024, 5, 20)},
		{"anchor is today", models.FrequencyMonthly, 10, date(2024, 5, 10), date(2024, 5, 10)},
		{"anchor passed", models.FrequencyMonthly, 5, date(2024, 5, 10), date(2024, 6, 5)},
		{"anchor clamped this month", models.FrequencyMonthly, 31, date(2024, 2, 10), date(2024, 2, 29)},
		{"anchor 31 on the 31st", models.FrequencyMonthly, 31, date(2024, 1, 31), date(2024, 1, 31)},
		{"semiannual passed", models.FrequencySemiannually, 1, date(2024, 5, 10), date(2024, 11, 1)},
		{"annual passed", models.FrequencyAnnually, 1, date(2024, 5, 10), date(2025, 5, 1)},
		{"weekly due today", models.FrequencyWeekly, 1, date(2024, 5, 10), date(2024, 5, 10)},
		{"daily due today", models.FrequencyDaily, 28, date(2024, 5, 10), date(2024, 5, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDueDate(tt.freq, tt.anchor, nil, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Format(models.DateLayout), tt.want.Format(models.DateLayout))
			}
		})
	}
}

func TestNextDueDate_Invalid(t *testing.T) {
	if _, err := NextDueDate("fortnightly", 1, nil, date(2024, 1, 1)); !errors.IsCode(err, errors.CodeInvalidSchedule) {
		t.Errorf("expected invalid_schedule for unknown frequency, got %v", err)
	}
	if _, err := NextDueDate(models.FrequencyMonthly, 0, nil, date(2024, 1, 1)); !errors.IsCode(err, errors.CodeInvalidSchedule) {
		t.Errorf("expected invalid_schedule for anchor 0, got %v", err)
	}
}

// Paying each cycle in turn must walk the chain one unit at a time.
func TestNextDueDate_Monotonic(t *testing.T) {
	freqs := []models.Frequency{
		models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly,
		models.FrequencySemiannually, models.FrequencyAnnually,
	}

	for _, freq := range freqs {
		t.Run(string(freq), func(t *testing.T) {
			last := date(2023, 12, 31)
			for i := 0; i < 30; i++ {
				next, err := NextDueDate(freq, 31, &last, date(2000, 1, 1))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !next.After(last) {
					t.Fatalf("step %d did not advance: %s -> %s", i, last, next)
				}
				expected, _ := AddAnchored(last, freq, 1, 31)
				if !next.Equal(expected) {
					t.Fatalf("step %d skipped a cycle: got %s, want %s", i, next, expected)
				}
				last = next
			}
		})
	}
}

func TestInstallmentDueDate(t *testing.T) {
	first := date(2024, 5, 15)
	want := []time.Time{date(2024, 5, 15), date(2024, 6, 15), date(2024, 7, 15)}

	for i, w := range want {
		got, err := InstallmentDueDate(first, i+1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(w) {
			t.Errorf("line %d: got %s, want %s", i+1, got.Format(models.DateLayout), w.Format(models.DateLayout))
		}
	}

	end, _ := InstallmentDueDate(date(2024, 1, 31), 2)
	if !end.Equal(date(2024, 2, 29)) {
		t.Errorf("expected clamped 2024-02-29, got %s", end.Format(models.DateLayout))
	}
	end, _ = InstallmentDueDate(date(2024, 1, 31), 3)
	if !end.Equal(date(2024, 3, 31)) {
		t.Errorf("expected anchor recovery 2024-03-31, got %s", end.Format(models.DateLayout))
	}

	if _, err := InstallmentDueDate(first, 0); !errors.IsCode(err, errors.CodeInvalidSchedule) {
		t.Errorf("expected invalid_schedule for index 0, got %v", err)
	}
}

func TestIsOverdue(t *testing.T) {
	monthly := item(models.FrequencyMonthly, 10, ptr(date(2024, 4, 10)))

	tests := []struct {
		name string
		now  time.Time
		paid bool
		want bool
	}{
		{"before due", date(2024, 5, 9), false, false},
		{"on due day", date(2024, 5, 10), false, false},
		{"day after due", date(2024, 5, 11), false, true},
		{"paid this cycle", date(2024, 6, 1), true, false},
		{"due day late in the evening", time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsOverdue(monthly, tt.now, tt.paid)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsOverdue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanPay(t *testing.T) {
	tests := []struct {
		name string
		item *models.RecurringItem
		now  time.Time
		want bool
	}{
		{"never charged weekly, far past", item(models.FrequencyWeekly, 1, nil), date(1999, 1, 1), true},
		{"never charged weekly, far future", item(models.FrequencyWeekly, 1, nil), date(2099, 1, 1), true},
		{"never charged monthly", item(models.FrequencyMonthly, 31, nil), date(2024, 5, 1), true},
		{"same cycle", item(models.FrequencyMonthly, 10, ptr(date(2024, 5, 10))), date(2024, 5, 20), false},
		{"next cycle reached", item(models.FrequencyMonthly, 10, ptr(date(2024, 5, 10))), date(2024, 6, 10), true},
		{"several cycles behind", item(models.FrequencyMonthly, 10, ptr(date(2024, 1, 10))), date(2024, 6, 1), true},
		{"weekly one day short", item(models.FrequencyWeekly, 1, ptr(date(2024, 5, 1))), date(2024, 5, 7), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanPay(tt.item, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanPay = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := CanPay(item("hourly", 1, nil), date(2024, 1, 1)); !errors.IsCode(err, errors.CodeInvalidSchedule) {
		t.Errorf("expected invalid_schedule for unknown frequency, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		item    *models.RecurringItem
		now     time.Time
		want    Status
		wantDue time.Time
	}{
		{"overdue", item(models.FrequencyMonthly, 10, ptr(date(2024, 4, 10))), date(2024, 5, 12), StatusOverdue, date(2024, 5, 10)},
		{"due today", item(models.FrequencyMonthly, 10, ptr(date(2024, 4, 10))), date(2024, 5, 10), StatusDueToday, date(2024, 5, 10)},
		{"settled", item(models.FrequencyMonthly, 10, ptr(date(2024, 5, 10))), date(2024, 5, 12), StatusSettled, date(2024, 6, 10)},
		{"upcoming first charge", item(models.FrequencyMonthly, 20, nil), date(2024, 5, 12), StatusUpcoming, date(2024, 5, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, due, err := Classify(tt.item, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
			if !due.Equal(tt.wantDue) {
				t.Errorf("due = %s, want %s", due.Format(models.DateLayout), tt.wantDue.Format(models.DateLayout))
			}
		})
	}
}

func TestOccurrences(t *testing.T) {
	monthly := item(models.FrequencyMonthly, 31, ptr(date(2023, 12, 31)))

	got, err := Occurrences(monthly, date(2024, 1, 1), date(2024, 4, 30), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d: got %s, want %s", i, got[i].Format(models.DateLayout), want[i].Format(models.DateLayout))
		}
	}

	limited, err := Occurrences(item(models.FrequencyDaily, 1, nil), date(2024, 1, 1), date(2024, 12, 31), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 5 {
		t.Errorf("expected limit of 5, got %d", len(limited))
	}
}
