package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"bilancio/internal/core"
)

// Store keeps rules and movements in process memory. It serves local
// development and tests; nothing survives a restart.
type Store struct {
	mu        sync.Mutex
	order     []string
	rules     map[string]core.RecurrenceRule
	movements map[string]*core.Movement // by date
	keys      map[string]struct{}
	nextID    int64
}

func New(rules ...core.RecurrenceRule) *Store {
	s := &Store{
		rules:     make(map[string]core.RecurrenceRule),
		movements: make(map[string]*core.Movement),
		keys:      make(map[string]struct{}),
	}
	s.replace(rules)
	return s
}

// NewFromFile seeds the store with the JSON rule file at path. A missing
// file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	rules, err := core.DecodeRules(f)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return New(rules...), nil
}

func (s *Store) Load(_ context.Context) ([]core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RecurrenceRule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyRule(s.rules[id]))
	}
	return out, nil
}

// Save replaces the rule set. Rules already stored keep their watermark.
func (s *Store) Save(_ context.Context, rules []core.RecurrenceRule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make(map[string]*core.Date, len(s.rules))
	for id, r := range s.rules {
		stored[id] = r.LastProcessed
	}
	s.replace(core.KeepWatermarks(rules, stored))
	return nil
}

func (s *Store) Get(_ context.Context, id string) (core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}
	return copyRule(r), nil
}

func (s *Store) UpdateWatermark(_ context.Context, id string, processed core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.ErrRuleNotFound
	}
	s.rules[id] = r.WithLastProcessed(processed)
	return nil
}

// MergeMovement mirrors the SQLite semantics: keyed items already
// recorded are dropped and an existing movement's version is bumped when
// it gains items.
func (s *Store) MergeMovement(_ context.Context, req core.MovementRequest) (core.Movement, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	income := s.fresh(req.Income)
	expenses := s.fresh(req.Expenses)
	added := len(income) + len(expenses)

	date := req.Date.String()
	m, ok := s.movements[date]
	switch {
	case !ok && added == 0:
		return core.Movement{}, 0, core.ErrMovementNotFound
	case !ok:
		s.nextID++
		m = &core.Movement{ID: s.nextID, Date: req.Date, Version: 1}
		s.movements[date] = m
	case added > 0:
		m.Version++
	}

	for _, it := range append(append([]core.MovementItem(nil), income...), expenses...) {
		if it.IdempotencyKey != "" {
			s.keys[it.IdempotencyKey] = struct{}{}
		}
	}
	m.Income = append(m.Income, income...)
	m.Expenses = append(m.Expenses, expenses...)
	m.Recompute()

	return copyMovement(m), added, nil
}

func (s *Store) CreateOrMergeMovement(ctx context.Context, req core.MovementRequest) (core.Movement, error) {
	if err := req.Validate(); err != nil {
		return core.Movement{}, fmt.Errorf("invalid movement request: %w", err)
	}
	m, _, err := s.MergeMovement(ctx, req)
	return m, err
}

func (s *Store) GetMovementByDate(_ context.Context, date core.Date) (core.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movements[date.String()]
	if !ok {
		return core.Movement{}, core.ErrMovementNotFound
	}
	return copyMovement(m), nil
}

func (s *Store) GetMovement(_ context.Context, id int64) (core.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.movements {
		if m.ID == id {
			return copyMovement(m), nil
		}
	}
	return core.Movement{}, core.ErrMovementNotFound
}

func (s *Store) ListMovements(_ context.Context, from, to core.Date) ([]core.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Movement
	for _, m := range s.movements {
		if !m.Date.Before(from) && !m.Date.After(to) {
			out = append(out, copyMovement(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// fresh filters items whose key is recorded or repeated. Callers hold mu.
func (s *Store) fresh(items []core.MovementItem) []core.MovementItem {
	out := make([]core.MovementItem, 0, len(items))
	seen := make(map[string]struct{})
	for _, it := range items {
		if k := it.IdempotencyKey; k != "" {
			if _, ok := s.keys[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

func (s *Store) replace(rules []core.RecurrenceRule) {
	s.order = make([]string, 0, len(rules))
	s.rules = make(map[string]core.RecurrenceRule, len(rules))
	for _, r := range rules {
		if _, dup := s.rules[r.ID]; !dup {
			s.order = append(s.order, r.ID)
		}
		s.rules[r.ID] = copyRule(r)
	}
}

func copyRule(r core.RecurrenceRule) core.RecurrenceRule {
	if r.LastProcessed != nil {
		lp := *r.LastProcessed
		r.LastProcessed = &lp
	}
	return r
}

func copyMovement(m *core.Movement) core.Movement {
	out := *m
	out.Income = append([]core.MovementItem(nil), m.Income...)
	out.Expenses = append([]core.MovementItem(nil), m.Expenses...)
	return out
}
