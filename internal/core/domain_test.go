package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		year, month, want int
	}{
		{2024, 2, 29},
		{2025, 2, 28},
		{1900, 2, 28},
		{2000, 2, 29},
		{2025, 4, 30},
		{2025, 12, 31},
	}
	for _, tc := range cases {
		if got := DaysInMonth(tc.year, tc.month); got != tc.want {
			t.Errorf("DaysInMonth(%d, %d) = %d, want %d", tc.year, tc.month, got, tc.want)
		}
	}
}

func TestDateStartOfWeek(t *testing.T) {
	// 2025-03-12 is a Wednesday; the week starts on Sunday 2025-03-09.
	got := NewDate(2025, 3, 12).StartOfWeek()
	if !got.Equal(NewDate(2025, 3, 9)) {
		t.Fatalf("StartOfWeek = %s, want 2025-03-09", got)
	}
	sunday := NewDate(2025, 3, 9)
	if !sunday.StartOfWeek().Equal(sunday) {
		t.Fatalf("StartOfWeek of a Sunday should be itself")
	}
}

func TestDateOfDropsClock(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 23:30 UTC on the 14th is already the 15th two hours east.
	ts := time.Date(2025, 3, 15, 1, 30, 0, 0, loc)
	if got := DateOf(ts); !got.Equal(NewDate(2025, 3, 15)) {
		t.Fatalf("DateOf = %s, want 2025-03-15", got)
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, 2, 29)
	b, err := d.MarshalJSON()
	if err != nil || string(b) != `"2024-02-29"` {
		t.Fatalf("MarshalJSON = %s, %v", b, err)
	}
	var back Date
	if err := back.UnmarshalJSON(b); err != nil || !back.Equal(d) {
		t.Fatalf("UnmarshalJSON = %s, %v", back, err)
	}
	if err := back.UnmarshalJSON([]byte(`"2024-13-01"`)); err == nil {
		t.Fatalf("expected error for invalid month")
	}
}

func TestRecurrenceRuleValidate(t *testing.T) {
	amount := decimal.RequireFromString("45.00")

	good := []Schedule{
		DailySchedule{},
		WeeklySchedule{Weekday: time.Sunday},
		MonthlySchedule{DayOfMonth: 31},
		AnnualSchedule{Month: 2, Day: 29},
		AnnualSchedule{Month: 3, Day: 15},
	}
	for _, s := range good {
		r, err := NewRecurrenceRule("Gas", amount, s)
		if err != nil {
			t.Fatalf("%T expected ok, got %v", s, err)
		}
		if r.ID == "" {
			t.Fatalf("%T expected an id to be assigned", s)
		}
		if r.LastProcessed != nil {
			t.Fatalf("new rule should never have been processed")
		}
	}

	bads := []struct {
		name     string
		label    string
		amount   decimal.Decimal
		schedule Schedule
		want     error
	}{
		{"empty label", "  ", amount, DailySchedule{}, ErrEmptyLabel},
		{"zero amount", "Gas", decimal.Zero, DailySchedule{}, ErrInvalidAmount},
		{"negative amount", "Gas", decimal.RequireFromString("-1"), DailySchedule{}, ErrInvalidAmount},
		{"no schedule", "Gas", amount, nil, ErrMissingSchedule},
		{"day 0", "Gas", amount, MonthlySchedule{DayOfMonth: 0}, ErrInvalidDay},
		{"day 32", "Gas", amount, MonthlySchedule{DayOfMonth: 32}, ErrInvalidDay},
		{"weekday out of range", "Gas", amount, WeeklySchedule{Weekday: 7}, ErrInvalidWeekday},
		{"month 13", "Gas", amount, AnnualSchedule{Month: 13, Day: 1}, ErrInvalidMonth},
		{"april 31", "Gas", amount, AnnualSchedule{Month: 4, Day: 31}, ErrInvalidDay},
	}
	for _, tc := range bads {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRecurrenceRule(tc.label, tc.amount, tc.schedule)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMovementRecompute(t *testing.T) {
	m := Movement{
		Income: []MovementItem{{Label: "Stipendio", Amount: decimal.RequireFromString("1500")}},
		Expenses: []MovementItem{
			{Label: "Affitto", Amount: decimal.RequireFromString("700.50")},
			{Label: "Caffè", Amount: decimal.RequireFromString("1.20"), IdempotencyKey: "k"},
		},
	}
	m.Recompute()
	if FormatAmount(m.TotalExpense) != "701.70" {
		t.Fatalf("TotalExpense = %s", m.TotalExpense)
	}
	if FormatAmount(m.Balance()) != "798.30" {
		t.Fatalf("Balance = %s", m.Balance())
	}
	if !m.HasKey("k") || m.HasKey("") || m.HasKey("other") {
		t.Fatalf("HasKey mismatch")
	}
}

func TestMovementRequestValidate(t *testing.T) {
	item := MovementItem{Label: "Gas", Amount: decimal.RequireFromString("45")}
	if err := (MovementRequest{Date: NewDate(2024, 2, 29), Expenses: []MovementItem{item}}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (MovementRequest{Date: NewDate(2024, 2, 29)}).Validate(); !errors.Is(err, ErrEmptyMovement) {
		t.Fatalf("expected ErrEmptyMovement, got %v", err)
	}
	if err := (MovementRequest{Expenses: []MovementItem{item}}).Validate(); err == nil {
		t.Fatalf("expected error for zero date")
	}
	bad := MovementItem{Label: "Gas"}
	if err := (MovementRequest{Date: NewDate(2024, 2, 29), Expenses: []MovementItem{bad}}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	got := IdempotencyKey(NewDate(2024, 2, 29), "Gas", "r1")
	if got != "2024-02-29|Gas|r1" {
		t.Fatalf("IdempotencyKey = %q", got)
	}
}

func TestKeepWatermarks(t *testing.T) {
	amount := decimal.NewFromInt(10)
	march := NewDate(2024, 3, 1)
	future := NewDate(2030, 1, 1)

	incoming := []RecurrenceRule{
		{ID: "kept", Label: "Renamed", Amount: amount, Schedule: MonthlySchedule{DayOfMonth: 1}},
		{ID: "forged", Label: "Gym", Amount: amount, Schedule: MonthlySchedule{DayOfMonth: 1}, LastProcessed: &future},
		{ID: "cleared", Label: "Phone", Amount: amount, Schedule: DailySchedule{}, LastProcessed: &future},
		{ID: "new", Label: "Seeded", Amount: amount, Schedule: DailySchedule{}, LastProcessed: &march},
	}
	stored := map[string]*Date{
		"kept":    &march,
		"forged":  &march,
		"cleared": nil,
	}

	got := KeepWatermarks(incoming, stored)

	tests := []struct {
		id   string
		want *Date
	}{
		{"kept", &march},
		{"forged", &march},
		{"cleared", nil},
		{"new", &march},
	}
	for i, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			lp := got[i].LastProcessed
			switch {
			case tc.want == nil && lp != nil:
				t.Errorf("watermark = %s, want none", lp)
			case tc.want != nil && (lp == nil || !lp.Equal(*tc.want)):
				t.Errorf("watermark = %v, want %s", lp, tc.want)
			}
		})
	}
	if got[0].Label != "Renamed" {
		t.Errorf("definition not taken from incoming: %+v", got[0])
	}
	if !incoming[1].LastProcessed.Equal(future) {
		t.Error("incoming slice was modified")
	}
}
