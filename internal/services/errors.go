package services

import (
	"errors"
	"fmt"

	"bilancio/internal/core"
)

var ErrProcessorNotInitialized = errors.New("processor not properly initialized")

// ValidationError reports a malformed rule. The rule is skipped.
type ValidationError struct {
	RuleID string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %s is invalid: %v", e.RuleID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SubmissionError reports a failed or timed out ledger submission. The
// watermark is left untouched so the rule is retried on the next pass.
type SubmissionError struct {
	RuleID  string
	Date    core.Date
	Timeout bool
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("submit rule %s for %s: timed out: %v", e.RuleID, e.Date, e.Err)
	}
	return fmt.Sprintf("submit rule %s for %s: %v", e.RuleID, e.Date, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StoreError reports a rule store failure. When Op is the watermark update
// the ledger entry already exists and only the ledger idempotency key
// prevents a duplicate on the next pass.
type StoreError struct {
	RuleID string
	Op     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("rule store %s for rule %s: %v", e.Op, e.RuleID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
