package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleRecord is the flat persisted shape of a RecurrenceRule. Only the
// payload fields of the declared frequency are set.
type RuleRecord struct {
	ID            string          `json:"id"`
	Label         string          `json:"label"`
	Amount        decimal.Decimal `json:"amount"`
	Frequency     Frequency       `json:"frequency"`
	DayOfMonth    *int            `json:"day_of_month,omitempty"`
	DayOfWeek     *string         `json:"day_of_week,omitempty"`
	AnnualMonth   *int            `json:"annual_month,omitempty"`
	AnnualDay     *int            `json:"annual_day,omitempty"`
	LastProcessed *Date           `json:"last_processed,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full English day names or their three-letter
// abbreviations, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdayNames[s]; ok {
		return wd, nil
	}
	if len(s) == 3 {
		for name, wd := range weekdayNames {
			if strings.HasPrefix(name, s) {
				return wd, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// FormatWeekday returns the lowercase English name used in records.
func FormatWeekday(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

// ToRecord flattens r.
func (r RecurrenceRule) ToRecord() RuleRecord {
	rec := RuleRecord{
		ID:        r.ID,
		Label:     r.Label,
		Amount:    r.Amount,
		Frequency: r.Frequency(),
	}
	if r.LastProcessed != nil {
		lp := *r.LastProcessed
		rec.LastProcessed = &lp
	}
	switch s := r.Schedule.(type) {
	case WeeklySchedule:
		name := FormatWeekday(s.Weekday)
		rec.DayOfWeek = &name
	case MonthlySchedule:
		day := s.DayOfMonth
		rec.DayOfMonth = &day
	case AnnualSchedule:
		month, day := s.Month, s.Day
		rec.AnnualMonth = &month
		rec.AnnualDay = &day
	}
	return rec
}

// FromRecord rebuilds a rule, rejecting records whose payload does not
// match the declared frequency.
func FromRecord(rec RuleRecord) (RecurrenceRule, error) {
	var schedule Schedule
	switch rec.Frequency {
	case Daily:
		if rec.DayOfMonth != nil || rec.DayOfWeek != nil || rec.AnnualMonth != nil || rec.AnnualDay != nil {
			return RecurrenceRule{}, ErrScheduleMismatch
		}
		schedule = DailySchedule{}
	case Weekly:
		if rec.DayOfWeek == nil {
			return RecurrenceRule{}, fmt.Errorf("weekly rule: %w", ErrInvalidWeekday)
		}
		if rec.DayOfMonth != nil || rec.AnnualMonth != nil || rec.AnnualDay != nil {
			return RecurrenceRule{}, ErrScheduleMismatch
		}
		wd, err := ParseWeekday(*rec.DayOfWeek)
		if err != nil {
			return RecurrenceRule{}, err
		}
		schedule = WeeklySchedule{Weekday: wd}
	case Monthly:
		if rec.DayOfMonth == nil {
			return RecurrenceRule{}, fmt.Errorf("monthly rule: %w", ErrInvalidDay)
		}
		if rec.DayOfWeek != nil || rec.AnnualMonth != nil || rec.AnnualDay != nil {
			return RecurrenceRule{}, ErrScheduleMismatch
		}
		schedule = MonthlySchedule{DayOfMonth: *rec.DayOfMonth}
	case Annual:
		if rec.AnnualMonth == nil {
			return RecurrenceRule{}, fmt.Errorf("annual rule: %w", ErrInvalidMonth)
		}
		if rec.AnnualDay == nil {
			return RecurrenceRule{}, fmt.Errorf("annual rule: %w", ErrInvalidDay)
		}
		if rec.DayOfMonth != nil || rec.DayOfWeek != nil {
			return RecurrenceRule{}, ErrScheduleMismatch
		}
		schedule = AnnualSchedule{Month: *rec.AnnualMonth, Day: *rec.AnnualDay}
	default:
		return RecurrenceRule{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, rec.Frequency)
	}

	r := RecurrenceRule{
		ID:       rec.ID,
		Label:    strings.TrimSpace(rec.Label),
		Amount:   rec.Amount,
		Schedule: schedule,
	}
	if rec.LastProcessed != nil && !rec.LastProcessed.IsZero() {
		lp := *rec.LastProcessed
		r.LastProcessed = &lp
	}
	if err := r.Validate(); err != nil {
		return RecurrenceRule{}, err
	}
	return r, nil
}

// DecodeRules reads a JSON array of rule records. Records without an id
// get a fresh one; duplicate ids are rejected.
func DecodeRules(r io.Reader) ([]RecurrenceRule, error) {
	var records []RuleRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	seen := make(map[string]struct{}, len(records))
	rules := make([]RecurrenceRule, 0, len(records))
	for i, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			rec.ID = uuid.NewString()
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, rec.ID)
		}
		seen[rec.ID] = struct{}{}

		rule, err := FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rec.Label, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// EncodeRules writes rules as an indented JSON array of records.
func EncodeRules(w io.Writer, rules []RecurrenceRule) error {
	records := make([]RuleRecord, len(rules))
	for i, r := range rules {
		records[i] = r.ToRecord()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
