package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
)

// ProcessorConfig holds configuration for the recurring processor
type ProcessorConfig struct {
	// SubmitTimeout bounds every ledger submission (default: 10s)
	SubmitTimeout time.Duration
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		SubmitTimeout: 10 * time.Second,
	}
}

type (
	// Materialization is a rule that produced a ledger entry in a pass.
	Materialization struct {
		Rule       core.RecurrenceRule
		Occurrence core.Date
		MovementID int64
	}

	// RuleFailure pairs a rule with the error that stopped it.
	RuleFailure struct {
		Rule core.RecurrenceRule
		Err  error
	}

	// PassResult describes one pass. Per-rule failures never abort a pass;
	// they are reported here.
	PassResult struct {
		Today     core.Date
		Processed []Materialization
		// Skipped holds validation, submission and pre-submission store
		// failures. Their watermarks are unchanged.
		Skipped []RuleFailure
		// Unrecorded holds rules whose entry was created but whose watermark
		// could not be saved.
		Unrecorded []RuleFailure
		// Removed lists rules deleted from the store before evaluation.
		Removed []string
		// Pending lists rules not reached because the pass was cancelled.
		Pending   []string
		NotDue    int
		Cancelled bool
	}

	// PassSummary is the count view of a PassResult.
	PassSummary struct {
		Date       string `json:"date"`
		Processed  int    `json:"processed"`
		Skipped    int    `json:"skipped"`
		Unrecorded int    `json:"unrecorded"`
		Removed    int    `json:"removed"`
		Pending    int    `json:"pending"`
		NotDue     int    `json:"not_due"`
		Cancelled  bool   `json:"cancelled"`
	}
)

func (r PassResult) Summary() PassSummary {
	return PassSummary{
		Date:       r.Today.String(),
		Processed:  len(r.Processed),
		Skipped:    len(r.Skipped),
		Unrecorded: len(r.Unrecorded),
		Removed:    len(r.Removed),
		Pending:    len(r.Pending),
		NotDue:     r.NotDue,
		Cancelled:  r.Cancelled,
	}
}

// Kind names the failure category as used in logs.
func (f RuleFailure) Kind() string {
	return errorType(f.Err)
}

// RecurringProcessor materializes due recurrence rules into ledger entries.
//
// Passes run one at a time: RunPass waits for a running pass to finish, and
// concurrent Run calls share a single pass. Each rule is re-read from the
// store right before evaluation, so a pass started from a stale snapshot
// still sees the latest watermark.
type RecurringProcessor struct {
	rules  RuleStore
	ledger Ledger
	clock  Clock
	config ProcessorConfig
	logger *applog.Logger

	guard  chan struct{}
	flight singleflight.Group

	// waiters counts Run callers of the current shared pass; the pass is
	// cancelled when the last one stops waiting.
	mu         sync.Mutex
	waiters    int
	passCtx    context.Context
	cancelPass context.CancelFunc
}

// NewRecurringProcessor creates a new recurring rule processor
func NewRecurringProcessor(rules RuleStore, ledger Ledger, clock Clock, config ProcessorConfig) *RecurringProcessor {
	if clock == nil {
		clock = SystemClock{}
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = DefaultProcessorConfig().SubmitTimeout
	}
	return &RecurringProcessor{
		rules:  rules,
		ledger: ledger,
		clock:  clock,
		config: config,
		logger: applog.Default(applog.ComponentRecurring),
		guard:  make(chan struct{}, 1),
	}
}

// WithLogger replaces the processor's logger.
func (p *RecurringProcessor) WithLogger(logger *applog.Logger) *RecurringProcessor {
	if logger != nil {
		p.logger = logger.WithComponent(applog.ComponentRecurring)
	}
	return p
}

// Run loads the current rule set, reads the clock and runs a pass.
// Overlapping calls are coalesced into one pass whose result they share.
//
// The shared pass outlives any single caller: a caller whose ctx ends stops
// waiting and gets ctx.Err(). Only when the last caller leaves is the pass
// cancelled, and that caller waits for it to stop at the next rule boundary.
func (p *RecurringProcessor) Run(ctx context.Context) (PassResult, error) {
	if p.rules == nil || p.ledger == nil {
		return PassResult{}, ErrProcessorNotInitialized
	}

	passCtx := p.join(ctx)
	ch := p.flight.DoChan("pass", func() (any, error) {
		rules, err := p.rules.Load(passCtx)
		if err != nil {
			return PassResult{}, fmt.Errorf("load recurrence rules: %w", err)
		}
		return p.RunPass(passCtx, rules, p.clock.Today())
	})

	select {
	case res := <-ch:
		p.leave()
		if res.Shared {
			p.logger.DebugContext(ctx, "Joined a pass already in progress")
		}
		result, _ := res.Val.(PassResult)
		return result, res.Err
	case <-ctx.Done():
	}

	if !p.leave() {
		p.logger.DebugContext(ctx, "Stopped waiting for shared recurring pass", applog.FieldError, ctx.Err())
		return PassResult{Today: p.clock.Today(), Cancelled: true}, fmt.Errorf("wait for recurring pass: %w", ctx.Err())
	}
	res := <-ch
	result, _ := res.Val.(PassResult)
	return result, res.Err
}

// join registers a caller and returns the context of the shared pass.
func (p *RecurringProcessor) join(ctx context.Context) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiters == 0 {
		p.passCtx, p.cancelPass = context.WithCancel(context.WithoutCancel(ctx))
	}
	p.waiters++
	return p.passCtx
}

// leave unregisters a caller and reports whether it was the last one, in
// which case the shared pass context is cancelled.
func (p *RecurringProcessor) leave() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters--
	if p.waiters > 0 {
		return false
	}
	p.cancelPass()
	return true
}

// RunPass evaluates rules in order on the evaluation date today, submits an
// entry for each due rule and advances its watermark to today.
//
// The returned error is non-nil only when the pass could not start or was
// cancelled; the result then still reports every rule handled so far.
// Cancellation is checked between rules, so each rule is either fully
// processed or left untouched.
func (p *RecurringProcessor) RunPass(ctx context.Context, rules []core.RecurrenceRule, today core.Date) (PassResult, error) {
	if p.rules == nil || p.ledger == nil {
		return PassResult{}, ErrProcessorNotInitialized
	}

	select {
	case p.guard <- struct{}{}:
	case <-ctx.Done():
		return PassResult{Today: today, Cancelled: true, Pending: ruleIDs(rules)},
			fmt.Errorf("wait for running pass: %w", ctx.Err())
	}
	defer func() { <-p.guard }()

	p.logger.InfoContext(ctx, "Processing recurring rules",
		applog.FieldTotalRules, len(rules),
		applog.FieldEvaluation, today.String())

	result := PassResult{Today: today}
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.Pending = ruleIDs(rules[i:])
			p.logger.WarnContext(ctx, "Recurring pass cancelled",
				"pending", len(result.Pending),
				applog.FieldProcessed, len(result.Processed))
			return result, fmt.Errorf("recurring pass cancelled: %w", err)
		}
		// The rule runs to completion even if ctx is cancelled meanwhile.
		p.processRule(context.WithoutCancel(ctx), rule, today, &result)
	}

	p.logger.InfoContext(ctx, "Recurring rule processing complete",
		applog.FieldEvaluation, today.String(),
		applog.FieldProcessed, len(result.Processed),
		applog.FieldSkipped, len(result.Skipped),
		applog.FieldUnrecorded, len(result.Unrecorded),
		applog.FieldRemoved, len(result.Removed),
		applog.FieldNotDue, result.NotDue)

	return result, nil
}

func (p *RecurringProcessor) processRule(ctx context.Context, rule core.RecurrenceRule, today core.Date, result *PassResult) {
	current, err := p.rules.Get(ctx, rule.ID)
	if errors.Is(err, core.ErrRuleNotFound) {
		p.logger.DebugContext(ctx, "Rule removed before evaluation, skipping",
			applog.FieldRuleID, rule.ID)
		result.Removed = append(result.Removed, rule.ID)
		return
	}
	if err != nil {
		p.skip(ctx, result, rule, &StoreError{RuleID: rule.ID, Op: applog.OpGet, Err: err})
		return
	}

	decision, err := Evaluate(current, today)
	if err != nil {
		p.skip(ctx, result, current, err)
		return
	}
	if !decision.Due {
		result.NotDue++
		return
	}

	movement, err := p.submit(ctx, current, decision.Occurrence)
	if err != nil {
		p.skip(ctx, result, current, err)
		return
	}

	if err := p.rules.UpdateWatermark(ctx, current.ID, today); err != nil {
		storeErr := &StoreError{RuleID: current.ID, Op: applog.OpWatermark, Err: err}
		result.Unrecorded = append(result.Unrecorded, RuleFailure{Rule: current, Err: storeErr})
		p.logger.ErrorContext(ctx, "Entry created but watermark not saved",
			applog.NewFields().
				WithRule(current.ID, current.Label, string(current.Frequency()), core.FormatAmount(current.Amount)).
				WithDates(today.String(), decision.Occurrence.String()).
				WithErrorType(applog.ErrorTypeStore).
				WithError(err).
				ToSlice()...)
		return
	}

	result.Processed = append(result.Processed, Materialization{
		Rule:       current.WithLastProcessed(today),
		Occurrence: decision.Occurrence,
		MovementID: movement.ID,
	})
	p.logger.InfoContext(ctx, "Created entry from recurrence rule",
		applog.NewFields().
			WithRule(current.ID, current.Label, string(current.Frequency()), core.FormatAmount(current.Amount)).
			WithDates(today.String(), decision.Occurrence.String()).
			ToSlice()...)
}

// submit sends a single recurring expense item dated at occurrence.
func (p *RecurringProcessor) submit(ctx context.Context, rule core.RecurrenceRule, occurrence core.Date) (core.Movement, error) {
	req := core.MovementRequest{
		Date: occurrence,
		Expenses: []core.MovementItem{{
			Label:          rule.Label,
			Amount:         rule.Amount,
			IsRecurring:    true,
			RuleID:         rule.ID,
			IdempotencyKey: core.IdempotencyKey(occurrence, rule.Label, rule.ID),
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.SubmitTimeout)
	defer cancel()

	movement, err := p.ledger.CreateOrMergeMovement(ctx, req)
	if err != nil {
		return core.Movement{}, &SubmissionError{
			RuleID:  rule.ID,
			Date:    occurrence,
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}
	return movement, nil
}

func (p *RecurringProcessor) skip(ctx context.Context, result *PassResult, rule core.RecurrenceRule, err error) {
	result.Skipped = append(result.Skipped, RuleFailure{Rule: rule, Err: err})
	p.logger.ErrorContext(ctx, "Skipping recurrence rule",
		applog.NewFields().
			WithRule(rule.ID, rule.Label, string(rule.Frequency()), core.FormatAmount(rule.Amount)).
			WithErrorType(errorType(err)).
			WithError(err).
			ToSlice()...)
}

func errorType(err error) string {
	var (
		validationErr *ValidationError
		submissionErr *SubmissionError
	)
	switch {
	case errors.As(err, &validationErr):
		return applog.ErrorTypeValidation
	case errors.As(err, &submissionErr):
		if submissionErr.Timeout {
			return applog.ErrorTypeTimeout
		}
		return applog.ErrorTypeSubmission
	default:
		return applog.ErrorTypeStore
	}
}

func ruleIDs(rules []core.RecurrenceRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
