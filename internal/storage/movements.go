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

const (
	kindIncome  = "income"
	kindExpense = "expense"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MergeMovement creates the movement for req.Date or appends the request
// items to it. Items whose idempotency key is already recorded are dropped.
// The version is bumped whenever an existing movement gains items. It
// returns the resulting movement and the number of items added.
func (r *SQLiteRepository) MergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, int, error) {
	var (
		movement core.Movement
		added    int
	)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		income, err := newItems(ctx, tx, req.Income)
		if err != nil {
			return err
		}
		expenses, err := newItems(ctx, tx, req.Expenses)
		if err != nil {
			return err
		}
		added = len(income) + len(expenses)

		date := req.Date.String()
		var (
			id      int64
			version int64
		)
		err = tx.QueryRowContext(ctx, `SELECT id, version FROM movements WHERE date = ?`, date).Scan(&id, &version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if added == 0 {
				return core.ErrMovementNotFound
			}
			ts := now()
			res, err := tx.ExecContext(ctx,
				`INSERT INTO movements (date, version, created_at, updated_at) VALUES (?, 1, ?, ?)`,
				date, ts, ts)
			if err != nil {
				return fmt.Errorf("insert movement: %w", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert movement: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find movement for %s: %w", date, err)
		case added > 0:
			if _, err := tx.ExecContext(ctx,
				`UPDATE movements SET version = version + 1, updated_at = ? WHERE id = ?`,
				now(), id); err != nil {
				return fmt.Errorf("bump movement version: %w", err)
			}
		}

		if err := insertItems(ctx, tx, id, kindIncome, income); err != nil {
			return err
		}
		if err := insertItems(ctx, tx, id, kindExpense, expenses); err != nil {
			return err
		}

		movement, err = loadMovement(ctx, tx, `WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return core.Movement{}, 0, err
	}

	if added > 0 {
		r.logger.InfoContext(ctx, "Movement saved to SQLite",
			applog.FieldMovementID, movement.ID,
			applog.FieldMovementDate, movement.Date.String(),
			applog.FieldVersion, movement.Version,
			"added", added)
	}
	return movement, added, nil
}

// CreateOrMergeMovement lets the repository serve as a ledger directly,
// without sync publishing.
func (r *SQLiteRepository) CreateOrMergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, error) {
	if err := req.Validate(); err != nil {
		return core.Movement{}, fmt.Errorf("invalid movement request: %w", err)
	}
	m, _, err := r.MergeMovement(ctx, req)
	return m, err
}

// GetMovement returns a movement by id.
func (r *SQLiteRepository) GetMovement(ctx context.Context, id int64) (core.Movement, error) {
	return loadMovement(ctx, r.db, `WHERE id = ?`, id)
}

// GetMovementByDate returns the movement of a day.
func (r *SQLiteRepository) GetMovementByDate(ctx context.Context, date core.Date) (core.Movement, error) {
	return loadMovement(ctx, r.db, `WHERE date = ?`, date.String())
}

// ListMovements returns the movements dated between from and to,
// inclusive, oldest first.
func (r *SQLiteRepository) ListMovements(ctx context.Context, from, to core.Date) ([]core.Movement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM movements WHERE date >= ? AND date <= ? ORDER BY date`,
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan movement id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movements: %w", err)
	}

	// The single connection is free again once rows is closed.
	out := make([]core.Movement, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetMovement(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// newItems drops items whose idempotency key is already recorded, either
// in the ledger or earlier in the same batch.
func newItems(ctx context.Context, tx *sql.Tx, items []core.MovementItem) ([]core.MovementItem, error) {
	out := make([]core.MovementItem, 0, len(items))
	seen := make(map[string]struct{})
	for _, it := range items {
		if it.IdempotencyKey != "" {
			if _, dup := seen[it.IdempotencyKey]; dup {
				continue
			}
			seen[it.IdempotencyKey] = struct{}{}

			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM movement_items WHERE idempotency_key = ?`, it.IdempotencyKey).Scan(&exists)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("check idempotency key: %w", err)
			}
		}
		out = append(out, it)
	}
	return out, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, movementID int64, kind string, items []core.MovementItem) error {
	if len(items) == 0 {
		return nil
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM movement_items WHERE movement_id = ? AND kind = ?`,
		movementID, kind).Scan(&next); err != nil {
		return fmt.Errorf("next item position: %w", err)
	}

	ts := now()
	for i, it := range items {
		var key, ruleID any
		if it.IdempotencyKey != "" {
			key = it.IdempotencyKey
		}
		if it.RuleID != "" {
			ruleID = it.RuleID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO movement_items
			(movement_id, kind, label, amount, is_recurring, rule_id, idempotency_key, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			movementID, kind, it.Label, it.Amount.String(), it.IsRecurring, ruleID, key, next+i, ts,
		); err != nil {
			return fmt.Errorf("insert %s item %q: %w", kind, it.Label, err)
		}
	}
	return nil
}

func loadMovement(ctx context.Context, q queryer, where string, arg any) (core.Movement, error) {
	var (
		m    core.Movement
		date string
	)
	err := q.QueryRowContext(ctx, `SELECT id, date, version FROM movements `+where, arg).Scan(&m.ID, &date, &m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Movement{}, core.ErrMovementNotFound
	}
	if err != nil {
		return core.Movement{}, fmt.Errorf("get movement: %w", err)
	}
	if m.Date, err = core.ParseDate(date); err != nil {
		return core.Movement{}, err
	}

	rows, err := q.QueryContext(ctx, `SELECT kind, label, amount, is_recurring, rule_id, idempotency_key
		FROM movement_items WHERE movement_id = ? ORDER BY kind, position`, m.ID)
	if err != nil {
		return core.Movement{}, fmt.Errorf("query movement items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, amount string
			it           core.MovementItem
			ruleID, key  sql.NullString
		)
		if err := rows.Scan(&kind, &it.Label, &amount, &it.IsRecurring, &ruleID, &key); err != nil {
			return core.Movement{}, fmt.Errorf("scan movement item: %w", err)
		}
		if it.Amount, err = decimal.NewFromString(amount); err != nil {
			return core.Movement{}, fmt.Errorf("parse item amount %q: %w", amount, err)
		}
		it.RuleID = ruleID.String
		it.IdempotencyKey = key.String

		if kind == kindIncome {
			m.Income = append(m.Income, it)
		} else {
			m.Expenses = append(m.Expenses, it)
		}
	}
	if err := rows.Err(); err != nil {
		return core.Movement{}, fmt.Errorf("iterate movement items: %w", err)
	}

	m.Recompute()
	return m, nil
}
