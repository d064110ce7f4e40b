package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Annual  Frequency = "annual"
)

// MaxLabelLength bounds rule and item labels.
const MaxLabelLength = 200

type (
	Frequency string

	// Schedule is the frequency-specific payload of a rule. The set of
	// implementations is closed: DailySchedule, WeeklySchedule,
	// MonthlySchedule and AnnualSchedule.
	Schedule interface {
		Frequency() Frequency
		validate() error
	}

	DailySchedule struct{}

	WeeklySchedule struct {
		Weekday time.Weekday
	}

	MonthlySchedule struct {
		DayOfMonth int // 1..31, clamped to the month length when evaluated
	}

	AnnualSchedule struct {
		Month int // 1..12
		Day   int // 1..31, never clamped
	}

	// RecurrenceRule is a template for a periodically generated expense.
	RecurrenceRule struct {
		ID       string
		Label    string
		Amount   decimal.Decimal
		Schedule Schedule
		// LastProcessed is the evaluation date of the last successful
		// materialization. Nil means never processed.
		LastProcessed *Date
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidWeekday   = errors.New("invalid weekday")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrEmptyLabel       = errors.New("empty label")
	ErrLabelTooLong     = fmt.Errorf("label too long (max %d characters)", MaxLabelLength)
	ErrMissingID        = errors.New("missing rule id")
	ErrMissingSchedule  = errors.New("missing schedule")
	ErrScheduleMismatch = errors.New("schedule payload does not match frequency")

	ErrRuleNotFound     = errors.New("recurrence rule not found")
	ErrMovementNotFound = errors.New("movement not found")
)

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Annual:
		return true
	}
	return false
}

func (DailySchedule) Frequency() Frequency { return Daily }
func (DailySchedule) validate() error      { return nil }

func (WeeklySchedule) Frequency() Frequency { return Weekly }

func (s WeeklySchedule) validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return ErrInvalidWeekday
	}
	return nil
}

func (MonthlySchedule) Frequency() Frequency { return Monthly }

func (s MonthlySchedule) validate() error {
	if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
		return ErrInvalidDay
	}
	return nil
}

func (AnnualSchedule) Frequency() Frequency { return Annual }

func (s AnnualSchedule) validate() error {
	if s.Month < 1 || s.Month > 12 {
		return ErrInvalidMonth
	}
	// 2024 is a leap year, so Feb 29 is accepted and Apr 31 is not.
	if s.Day < 1 || s.Day > DaysInMonth(2024, s.Month) {
		return ErrInvalidDay
	}
	return nil
}

// NewRecurrenceRule validates the definition and assigns a fresh id.
func NewRecurrenceRule(label string, amount decimal.Decimal, schedule Schedule) (RecurrenceRule, error) {
	r := RecurrenceRule{
		ID:       uuid.NewString(),
		Label:    strings.TrimSpace(label),
		Amount:   amount,
		Schedule: schedule,
	}
	if err := r.Validate(); err != nil {
		return RecurrenceRule{}, err
	}
	return r, nil
}

func (r RecurrenceRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	if err := validateLabel(r.Label); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.Schedule == nil {
		return ErrMissingSchedule
	}
	if err := r.Schedule.validate(); err != nil {
		return fmt.Errorf("%s schedule: %w", r.Schedule.Frequency(), err)
	}
	return nil
}

// Frequency returns the tag of the rule's schedule, or "" when unset.
func (r RecurrenceRule) Frequency() Frequency {
	if r.Schedule == nil {
		return ""
	}
	return r.Schedule.Frequency()
}

// WithLastProcessed returns a copy of r carrying the given watermark.
func (r RecurrenceRule) WithLastProcessed(d Date) RecurrenceRule {
	r.LastProcessed = &d
	return r
}

// WithoutLastProcessed returns a copy of r that has never been processed.
func (r RecurrenceRule) WithoutLastProcessed() RecurrenceRule {
	r.LastProcessed = nil
	return r
}

// KeepWatermarks returns incoming with the watermark of every rule whose id
// is in stored replaced by the stored one, nil included. Rules with a new id
// keep the watermark they arrive with.
func KeepWatermarks(incoming []RecurrenceRule, stored map[string]*Date) []RecurrenceRule {
	out := make([]RecurrenceRule, len(incoming))
	for i, r := range incoming {
		lp, ok := stored[r.ID]
		switch {
		case !ok:
		case lp == nil:
			r = r.WithoutLastProcessed()
		default:
			r = r.WithLastProcessed(*lp)
		}
		out[i] = r
	}
	return out
}

func validateLabel(label string) error {
	if len(strings.TrimSpace(label)) == 0 {
		return ErrEmptyLabel
	}
	if len(label) > MaxLabelLength {
		return ErrLabelTooLong
	}
	return nil
}
