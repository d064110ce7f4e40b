package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

// fakeValues stores sheets as row slices.
type fakeValues struct {
	sheets  map[string][][]any
	gets    int
	updates []string
	getErr  error
}

func newFakeValues() *fakeValues {
	return &fakeValues{sheets: make(map[string][][]any)}
}

func (f *fakeValues) Get(_ context.Context, rng string) ([][]any, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	sheet := strings.SplitN(rng, "!", 2)[0]
	var out [][]any
	for _, r := range f.sheets[sheet] {
		out = append(out, []any{r[5]})
	}
	return out, nil
}

func (f *fakeValues) Update(_ context.Context, rng string, rows [][]any) error {
	f.updates = append(f.updates, rng)
	sheet := strings.SplitN(rng, "!", 2)[0]
	f.sheets[sheet] = append(f.sheets[sheet], rows...)
	return nil
}

func testMovement() core.Movement {
	date := core.NewDate(2024, 2, 29)
	m := core.Movement{
		ID:      3,
		Date:    date,
		Version: 1,
		Income:  []core.MovementItem{{Label: "Salary", Amount: decimal.NewFromInt(2000)}},
		Expenses: []core.MovementItem{{
			Label:          "Gas",
			Amount:         decimal.RequireFromString("45"),
			IsRecurring:    true,
			RuleID:         "r1",
			IdempotencyKey: core.IdempotencyKey(date, "Gas", "r1"),
		}},
	}
	m.Recompute()
	return m
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		baseName string
		year     int
		expected string
	}{
		{"Movimenti", 2025, "2025 Movimenti"},
		{"Ledger", 2024, "2024 Ledger"},
		{"", 2023, ""}, // Empty base returns empty
		{"Test Sheet", 2022, "2022 Test Sheet"},
		{"2025 Already Prefixed", 2024, "2025 Already Prefixed"}, // Already has year prefix
	}

	for _, tt := range tests {
		got := yearPrefixedName(tt.baseName, tt.year)
		if got != tt.expected {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q",
				tt.baseName, tt.year, got, tt.expected)
		}
	}
}

func TestMovementRows(t *testing.T) {
	rows := movementRows(testMovement())
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	income := rows[0]
	if income.Kind != "income" || income.Key != "m3:income:0" || income.Amount != "2000.00" || income.Recurring {
		t.Errorf("unexpected income row %+v", income)
	}
	expense := rows[1]
	if expense.Kind != "expense" || expense.Key != "2024-02-29|Gas|r1" || !expense.Recurring {
		t.Errorf("unexpected expense row %+v", expense)
	}

	vals := expense.values()
	want := []any{"2024-02-29", "expense", "Gas", "45.00", "R", "2024-02-29|Gas|r1"}
	if fmt.Sprint(vals) != fmt.Sprint(want) {
		t.Errorf("values() = %v, want %v", vals, want)
	}
}

func TestMirrorMovement_AppendsOnce(t *testing.T) {
	values := newFakeValues()
	c := newClient(values, "sheet-id", "").WithLogger(applog.Discard())
	ctx := context.Background()

	n, err := c.MirrorMovement(ctx, testMovement())
	if err != nil {
		t.Fatalf("MirrorMovement() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("appended %d rows, want 2", n)
	}
	if len(values.updates) != 1 || values.updates[0] != "2024 Movimenti!A1:F2" {
		t.Fatalf("updates = %v", values.updates)
	}

	// Redelivery: every key is cached, the sheet is not even read.
	gets := values.gets
	n, err = c.MirrorMovement(ctx, testMovement())
	if err != nil || n != 0 {
		t.Fatalf("second MirrorMovement() = %d, %v", n, err)
	}
	if values.gets != gets {
		t.Error("expected cached keys to skip the sheet read")
	}
}

func TestMirrorMovement_UsesSheetKeysAfterRestart(t *testing.T) {
	values := newFakeValues()
	ctx := context.Background()

	first := newClient(values, "sheet-id", "Ledger").WithLogger(applog.Discard())
	if _, err := first.MirrorMovement(ctx, testMovement()); err != nil {
		t.Fatalf("MirrorMovement() error = %v", err)
	}

	// A fresh client has an empty cache but finds the keys in column F.
	m := testMovement()
	m.Version = 2
	m.Expenses = append(m.Expenses, core.MovementItem{Label: "Lunch", Amount: decimal.RequireFromString("12.40")})
	m.Recompute()

	second := newClient(values, "sheet-id", "Ledger").WithLogger(applog.Discard())
	n, err := second.MirrorMovement(ctx, m)
	if err != nil {
		t.Fatalf("MirrorMovement() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("appended %d rows, want 1", n)
	}
	if last := values.updates[len(values.updates)-1]; last != "2024 Ledger!A3:F3" {
		t.Errorf("last update range = %s", last)
	}
	if got := len(values.sheets["2024 Ledger"]); got != 3 {
		t.Errorf("sheet rows = %d, want 3", got)
	}
}

func TestMirrorMovement_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("uninitialized", func(t *testing.T) {
		c := &Client{}
		if _, err := c.MirrorMovement(ctx, testMovement()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("zero date", func(t *testing.T) {
		c := newClient(newFakeValues(), "sheet-id", "").WithLogger(applog.Discard())
		if _, err := c.MirrorMovement(ctx, core.Movement{ID: 1}); err == nil {
			t.Fatal("expected error for zero date")
		}
	})

	t.Run("read failure", func(t *testing.T) {
		values := newFakeValues()
		values.getErr = errors.New("quota exceeded")
		c := newClient(values, "sheet-id", "").WithLogger(applog.Discard())
		if _, err := c.MirrorMovement(ctx, testMovement()); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("expected read error, got %v", err)
		}
		if len(values.updates) != 0 {
			t.Error("nothing should be written after a failed read")
		}
	})
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if got, err := loadCredentials(Options{CredentialsJSON: ` {"type":"service_account"} `}); err != nil || string(got) != `{"type":"service_account"}` {
		t.Errorf("inline credentials = %q, %v", got, err)
	}
	if _, err := loadCredentials(Options{CredentialsFile: "/does/not/exist.json"}); err == nil {
		t.Error("expected error for missing credentials file")
	}
	if _, err := loadCredentials(Options{}); err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("expected missing credentials error, got %v", err)
	}
}
