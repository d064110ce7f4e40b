// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring expense dueness checking.
// Each frequency (daily, weekly, monthly, annual) has its own checker that
// decides whether a rule is due on an evaluation date and which occurrence
// date the generated entry carries.
//
// Only monthly rules catch up: once the (clamped) target day has passed they
// fire on any later day of the month and backdate the entry to the target.
// Daily, weekly and annual rules need an exact-day hit.

package services

import (
	"fmt"

	"bilancio/internal/core"
)

// Decision is the outcome of evaluating a rule on a given day.
type Decision struct {
	Due bool
	// Occurrence is the date stamped on the generated entry. Zero when not due.
	Occurrence core.Date
}

// DuenessChecker is the strategy interface for checking if a recurring rule is due.
// Each implementation encapsulates the algorithm for a specific frequency.
type DuenessChecker interface {
	// IsDue evaluates schedule against the watermark (nil when never
	// processed) on the evaluation date today.
	IsDue(schedule core.Schedule, lastProcessed *core.Date, today core.Date) (Decision, error)
}

// DailyChecker implements DuenessChecker for daily rules.
type DailyChecker struct{}

// IsDue returns due unless the rule was already processed today.
func (DailyChecker) IsDue(schedule core.Schedule, lastProcessed *core.Date, today core.Date) (Decision, error) {
	if _, ok := schedule.(core.DailySchedule); !ok {
		return Decision{}, mismatch(core.Daily, schedule)
	}
	if lastProcessed == nil || !lastProcessed.Equal(today) {
		return Decision{Due: true, Occurrence: today}, nil
	}
	return Decision{}, nil
}

// WeeklyChecker implements DuenessChecker for weekly rules.
type WeeklyChecker struct{}

// IsDue returns due on the configured weekday when the rule has not been
// processed since the start of the current (Sunday-based) week.
func (WeeklyChecker) IsDue(schedule core.Schedule, lastProcessed *core.Date, today core.Date) (Decision, error) {
	s, ok := schedule.(core.WeeklySchedule)
	if !ok {
		return Decision{}, mismatch(core.Weekly, schedule)
	}
	if today.Weekday() != s.Weekday {
		return Decision{}, nil
	}
	if lastProcessed != nil && !lastProcessed.Before(today.StartOfWeek()) {
		return Decision{}, nil
	}
	return Decision{Due: true, Occurrence: today}, nil
}

// MonthlyChecker implements DuenessChecker for monthly rules.
type MonthlyChecker struct{}

// IsDue returns due once the target day (clamped to the month length) has
// been reached and the rule was not processed this month. The occurrence is
// the target day, even when evaluated later in the month.
func (MonthlyChecker) IsDue(schedule core.Schedule, lastProcessed *core.Date, today core.Date) (Decision, error) {
	s, ok := schedule.(core.MonthlySchedule)
	if !ok {
		return Decision{}, mismatch(core.Monthly, schedule)
	}

	target := min(s.DayOfMonth, core.DaysInMonth(today.Year(), today.Month()))
	if today.Day() < target {
		return Decision{}, nil
	}

	// Already processed this month?
	if lastProcessed != nil && lastProcessed.SameMonth(today) {
		return Decision{}, nil
	}

	return Decision{Due: true, Occurrence: core.NewDate(today.Year(), today.Month(), target)}, nil
}

// AnnualChecker implements DuenessChecker for annual rules.
type AnnualChecker struct{}

// IsDue returns due only on the exact month and day, once per year.
func (AnnualChecker) IsDue(schedule core.Schedule, lastProcessed *core.Date, today core.Date) (Decision, error) {
	s, ok := schedule.(core.AnnualSchedule)
	if !ok {
		return Decision{}, mismatch(core.Annual, schedule)
	}
	if today.Month() != s.Month || today.Day() != s.Day {
		return Decision{}, nil
	}

	// Already processed this year?
	if lastProcessed != nil && lastProcessed.Year() == today.Year() {
		return Decision{}, nil
	}

	return Decision{Due: true, Occurrence: today}, nil
}

// duenessStrategies maps frequencies to their corresponding checkers.
var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Annual:  AnnualChecker{},
}

// GetDuenessChecker returns the appropriate dueness checker for a frequency.
// Returns an error if the frequency is not supported.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, frequency)
	}
	return checker, nil
}

// Evaluate decides whether rule is due on today. A malformed rule yields a
// *ValidationError and is never due.
func Evaluate(rule core.RecurrenceRule, today core.Date) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, &ValidationError{RuleID: rule.ID, Err: err}
	}
	checker, err := GetDuenessChecker(rule.Schedule.Frequency())
	if err != nil {
		return Decision{}, &ValidationError{RuleID: rule.ID, Err: err}
	}
	decision, err := checker.IsDue(rule.Schedule, rule.LastProcessed, today)
	if err != nil {
		return Decision{}, &ValidationError{RuleID: rule.ID, Err: err}
	}
	return decision, nil
}

func mismatch(want core.Frequency, schedule core.Schedule) error {
	return fmt.Errorf("%w: %s checker got %T", core.ErrScheduleMismatch, want, schedule)
}
