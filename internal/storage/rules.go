package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

const ruleColumns = `id, label, amount, frequency, day_of_month, day_of_week, annual_month, annual_day, last_processed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (core.RecurrenceRule, error) {
	var (
		rec           core.RuleRecord
		amount        string
		frequency     string
		dayOfMonth    sql.NullInt64
		dayOfWeek     sql.NullString
		annualMonth   sql.NullInt64
		annualDay     sql.NullInt64
		lastProcessed sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Label, &amount, &frequency, &dayOfMonth, &dayOfWeek, &annualMonth, &annualDay, &lastProcessed); err != nil {
		return core.RecurrenceRule{}, err
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule %s: parse amount %q: %w", rec.ID, amount, err)
	}
	rec.Amount = amt
	rec.Frequency = core.Frequency(frequency)
	rec.DayOfMonth = intPtr(dayOfMonth)
	rec.AnnualMonth = intPtr(annualMonth)
	rec.AnnualDay = intPtr(annualDay)
	if dayOfWeek.Valid {
		s := dayOfWeek.String
		rec.DayOfWeek = &s
	}
	if lastProcessed.Valid {
		d, err := core.ParseDate(lastProcessed.String)
		if err != nil {
			return core.RecurrenceRule{}, fmt.Errorf("rule %s: %w", rec.ID, err)
		}
		rec.LastProcessed = &d
	}

	rule, err := core.FromRecord(rec)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("rule %s: %w", rec.ID, err)
	}
	return rule, nil
}

// Load returns every rule in insertion order.
func (r *SQLiteRepository) Load(ctx context.Context) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("query recurrence rules: %w", err)
	}
	defer rows.Close()

	var rules []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurrence rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recurrence rules: %w", err)
	}
	return rules, nil
}

// Save replaces the stored rule set. Rules already stored keep their
// watermark; only UpdateWatermark moves it.
func (r *SQLiteRepository) Save(ctx context.Context, rules []core.RecurrenceRule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedWatermarks(ctx, tx)
		if err != nil {
			return err
		}
		rules = core.KeepWatermarks(rules, stored)

		if _, err := tx.ExecContext(ctx, `DELETE FROM recurrence_rules`); err != nil {
			return fmt.Errorf("clear recurrence rules: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO recurrence_rules
			(`+ruleColumns+`, position, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		ts := now()
		for i, rule := range rules {
			rec := rule.ToRecord()
			var lastProcessed any
			if rec.LastProcessed != nil {
				lastProcessed = rec.LastProcessed.String()
			}
			if _, err := stmt.ExecContext(ctx,
				rec.ID, rec.Label, rec.Amount.String(), string(rec.Frequency),
				nullable(rec.DayOfMonth), nullableString(rec.DayOfWeek),
				nullable(rec.AnnualMonth), nullable(rec.AnnualDay),
				lastProcessed, i, ts, ts,
			); err != nil {
				return fmt.Errorf("insert rule %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Recurrence rules saved", "count", len(rules), applog.FieldOperation, applog.OpSave)
	return nil
}

func storedWatermarks(ctx context.Context, tx *sql.Tx) (map[string]*core.Date, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, last_processed FROM recurrence_rules`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]*core.Date)
	for rows.Next() {
		var (
			id string
			lp sql.NullString
		)
		if err := rows.Scan(&id, &lp); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		stored[id] = nil
		if lp.Valid {
			d, err := core.ParseDate(lp.String)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", id, err)
			}
			stored[id] = &d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return stored, nil
}

// Get returns the current state of one rule.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return rule, nil
}

// UpdateWatermark sets last_processed for one rule.
func (r *SQLiteRepository) UpdateWatermark(ctx context.Context, id string, processed core.Date) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurrence_rules SET last_processed = ?, updated_at = ? WHERE id = ?`,
		processed.String(), now(), id)
	if err != nil {
		return fmt.Errorf("update watermark for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update watermark for %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullable(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
