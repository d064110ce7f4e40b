package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
)

func TestStoreRulesRoundTrip(t *testing.T) {
	ctx := context.Background()
	rule := core.RecurrenceRule{ID: "r1", Label: "Rent", Amount: decimal.NewFromInt(800), Schedule: core.MonthlySchedule{DayOfMonth: 1}}
	s := New(rule)

	day := core.NewDate(2024, 5, 1)
	if err := s.UpdateWatermark(ctx, "r1", day); err != nil {
		t.Fatalf("UpdateWatermark() error = %v", err)
	}
	got, err := s.Get(ctx, "r1")
	if err != nil || got.LastProcessed == nil || !got.LastProcessed.Equal(day) {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	// Snapshots are copies.
	rules, _ := s.Load(ctx)
	*rules[0].LastProcessed = core.NewDate(1999, 1, 1)
	got, _ = s.Get(ctx, "r1")
	if !got.LastProcessed.Equal(day) {
		t.Fatal("Load() leaked internal state")
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("Get(nope) error = %v", err)
	}
	if err := s.UpdateWatermark(ctx, "nope", day); !errors.Is(err, core.ErrRuleNotFound) {
		t.Errorf("UpdateWatermark(nope) error = %v", err)
	}
}

func TestStoreSaveValidates(t *testing.T) {
	bad := core.RecurrenceRule{ID: "r1", Label: "", Amount: decimal.NewFromInt(1), Schedule: core.DailySchedule{}}
	if err := New().Save(context.Background(), []core.RecurrenceRule{bad}); !errors.Is(err, core.ErrEmptyLabel) {
		t.Fatalf("expected ErrEmptyLabel, got %v", err)
	}
}

func TestStoreSaveKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	march := core.NewDate(2024, 3, 1)
	rent := core.RecurrenceRule{ID: "rent", Label: "Rent", Amount: decimal.NewFromInt(800), Schedule: core.MonthlySchedule{DayOfMonth: 1}}
	s := New(rent)
	if err := s.UpdateWatermark(ctx, "rent", march); err != nil {
		t.Fatalf("UpdateWatermark() error = %v", err)
	}

	renamed := rent
	renamed.Label = "Rent flat"
	future := core.NewDate(2030, 1, 1)
	gym := core.RecurrenceRule{ID: "gym", Label: "Gym", Amount: decimal.NewFromInt(30), Schedule: core.DailySchedule{}, LastProcessed: &future}
	if err := s.Save(ctx, []core.RecurrenceRule{renamed, gym}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, "rent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Label != "Rent flat" || got.LastProcessed == nil || !got.LastProcessed.Equal(march) {
		t.Errorf("rent = %+v, want new label with watermark %s", got, march)
	}

	// Once stored, a rule ignores the watermark it is saved with.
	forged := gym
	past := core.NewDate(2020, 1, 1)
	forged.LastProcessed = &past
	if err := s.Save(ctx, []core.RecurrenceRule{renamed, forged}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ = s.Get(ctx, "gym")
	if got.LastProcessed == nil || !got.LastProcessed.Equal(future) {
		t.Errorf("gym watermark = %v, want %s", got.LastProcessed, future)
	}
}

func TestStoreMergeMovement(t *testing.T) {
	ctx := context.Background()
	s := New()
	date := core.NewDate(2024, 5, 1)
	item := core.MovementItem{Label: "Gym", Amount: decimal.NewFromInt(30), IdempotencyKey: "k"}

	m, added, err := s.MergeMovement(ctx, core.MovementRequest{Date: date, Expenses: []core.MovementItem{item}})
	if err != nil || added != 1 || m.Version != 1 {
		t.Fatalf("first merge = %+v, %d, %v", m, added, err)
	}
	m, added, err = s.MergeMovement(ctx, core.MovementRequest{Date: date, Expenses: []core.MovementItem{item}})
	if err != nil || added != 0 || m.Version != 1 || len(m.Expenses) != 1 {
		t.Fatalf("duplicate merge = %+v, %d, %v", m, added, err)
	}
	m, added, err = s.MergeMovement(ctx, core.MovementRequest{Date: date, Income: []core.MovementItem{{Label: "Salary", Amount: decimal.NewFromInt(100)}}})
	if err != nil || added != 1 || m.Version != 2 {
		t.Fatalf("income merge = %+v, %d, %v", m, added, err)
	}
	if !m.Balance().Equal(decimal.NewFromInt(70)) {
		t.Errorf("balance = %s, want 70", m.Balance())
	}

	got, err := s.GetMovementByDate(ctx, date)
	if err != nil || got.ID != m.ID {
		t.Fatalf("GetMovementByDate() = %+v, %v", got, err)
	}
	if _, err := s.GetMovementByDate(ctx, date.AddDays(1)); !errors.Is(err, core.ErrMovementNotFound) {
		t.Errorf("expected ErrMovementNotFound, got %v", err)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFromFile(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing file should yield empty store: %v", err)
	}
	if rules, _ := s.Load(context.Background()); len(rules) != 0 {
		t.Fatalf("expected no rules, got %d", len(rules))
	}

	path := filepath.Join(dir, "rules.json")
	content := `[
  {"id": "r1", "label": "Coffee", "amount": "2.50", "frequency": "daily"},
  {"id": "r2", "label": "Seguro", "amount": "120.00", "frequency": "annual", "annual_month": 3, "annual_day": 15}
]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	s, err = NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	rules, _ := s.Load(context.Background())
	if len(rules) != 2 || rules[0].ID != "r1" || rules[1].Frequency() != core.Annual {
		t.Fatalf("unexpected rules %+v", rules)
	}

	if err := os.WriteFile(path, []byte(`[{"id":"x","label":"Bad","amount":"1","frequency":"hourly"}]`), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := NewFromFile(path); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}
}

func TestStoreListMovements(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, d := range []core.Date{core.NewDate(2024, 3, 3), core.NewDate(2024, 3, 1), core.NewDate(2024, 4, 1)} {
		if _, err := s.CreateOrMergeMovement(ctx, core.MovementRequest{
			Date:     d,
			Expenses: []core.MovementItem{{Label: "Gym", Amount: decimal.NewFromInt(30)}},
		}); err != nil {
			t.Fatalf("CreateOrMergeMovement() error = %v", err)
		}
	}

	got, err := s.ListMovements(ctx, core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31))
	if err != nil {
		t.Fatalf("ListMovements() error = %v", err)
	}
	if len(got) != 2 || !got[0].Date.Equal(core.NewDate(2024, 3, 1)) {
		t.Fatalf("ListMovements() = %+v", got)
	}
}
