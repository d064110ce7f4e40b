package services

import (
	"context"
	"time"

	"bilancio/internal/core"
)

// Ports consumed by the recurring processor.
type (
	// RuleStore holds rule definitions and their watermarks. The processor
	// is the only caller of UpdateWatermark.
	RuleStore interface {
		// Load returns a snapshot of every rule.
		Load(ctx context.Context) ([]core.RecurrenceRule, error)
		// Save replaces the stored rule set. A rule whose id is already
		// stored keeps its stored watermark whatever the argument carries.
		Save(ctx context.Context, rules []core.RecurrenceRule) error
		// Get returns the current state of one rule or core.ErrRuleNotFound.
		Get(ctx context.Context, id string) (core.RecurrenceRule, error)
		// UpdateWatermark sets lastProcessed, or returns core.ErrRuleNotFound.
		UpdateWatermark(ctx context.Context, id string, processed core.Date) error
	}

	// Ledger accepts movement requests keyed by date and merges them into
	// the day's record. Items whose idempotency key is already recorded are
	// ignored and the existing movement is returned.
	Ledger interface {
		CreateOrMergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, error)
	}

	// Clock supplies the evaluation date.
	Clock interface {
		Today() core.Date
	}
)

// SystemClock reads the wall clock in Location (UTC when nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Today() core.Date {
	now := time.Now()
	if c.Location != nil {
		now = now.In(c.Location)
	} else {
		now = now.UTC()
	}
	return core.DateOf(now)
}

// FixedClock always returns the same date.
type FixedClock core.Date

func (c FixedClock) Today() core.Date { return core.Date(c) }
