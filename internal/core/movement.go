package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type (
	// MovementItem is one income or expense line of a day's movement.
	MovementItem struct {
		Label       string          `json:"label"`
		Amount      decimal.Decimal `json:"amount"`
		IsRecurring bool            `json:"is_recurring"`
		// RuleID is a display back-reference to the generating rule.
		RuleID string `json:"rule_id,omitempty"`
		// IdempotencyKey, when set, is unique across the ledger.
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}

	// MovementRequest asks the ledger to create the movement for Date or
	// merge the items into the existing one.
	MovementRequest struct {
		Date     Date
		Income   []MovementItem
		Expenses []MovementItem
	}

	// Movement is the ledger record of a single day.
	Movement struct {
		ID           int64           `json:"id"`
		Date         Date            `json:"date"`
		Version      int64           `json:"version"`
		Income       []MovementItem  `json:"income"`
		Expenses     []MovementItem  `json:"expenses"`
		TotalIncome  decimal.Decimal `json:"total_income"`
		TotalExpense decimal.Decimal `json:"total_expense"`
	}
)

var ErrEmptyMovement = errors.New("movement request has no items")

// IdempotencyKey identifies a recurring item by occurrence date, label
// and generating rule.
func IdempotencyKey(date Date, label, ruleID string) string {
	return strings.Join([]string{date.String(), label, ruleID}, "|")
}

func (i MovementItem) Validate() error {
	if err := validateLabel(i.Label); err != nil {
		return err
	}
	if !i.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (r MovementRequest) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if len(r.Income)+len(r.Expenses) == 0 {
		return ErrEmptyMovement
	}
	for i, it := range r.Income {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("income item %d: %w", i, err)
		}
	}
	for i, it := range r.Expenses {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("expense item %d: %w", i, err)
		}
	}
	return nil
}

// Recompute refreshes the totals from the item lists.
func (m *Movement) Recompute() {
	m.TotalIncome = sumItems(m.Income)
	m.TotalExpense = sumItems(m.Expenses)
}

// Balance is income minus expenses for the day.
func (m Movement) Balance() decimal.Decimal {
	return m.TotalIncome.Sub(m.TotalExpense)
}

// HasKey reports whether any item of m carries the idempotency key.
func (m Movement) HasKey(key string) bool {
	if key == "" {
		return false
	}
	for _, it := range m.Income {
		if it.IdempotencyKey == key {
			return true
		}
	}
	for _, it := range m.Expenses {
		if it.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func sumItems(items []MovementItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}
