package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval.
// It performs existence checks only; rule validity is checked by the engine.
type RuleStore interface {
	// Add a new rule. Sets CreatedAt/UpdatedAt and resets the execution counters.
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID, ErrRuleNotFound if missing
	Get(ctx context.Context, id string) (*Rule, error)

	// ListByCoach returns every rule owned by coachID, active or not
	ListByCoach(ctx context.Context, coachID string) ([]*Rule, error)

	// ListActive returns every active rule
	ListActive(ctx context.Context) ([]*Rule, error)

	// Update replaces an existing rule, preserving CreatedAt and the counters
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule
	Delete(ctx context.Context, id string) error

	// MarkExecuted increments TimesExecuted and sets LastExecutedAt
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Rules are copied on the way in and out.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.TimesExecuted = 0
	rule.LastExecutedAt = nil
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// ListByCoach returns the coach's rules, oldest first
func (s *InMemoryRuleStore) ListByCoach(_ context.Context, coachID string) ([]*Rule, error) {
	return s.list(func(r *Rule) bool { return r.CoachID == coachID }), nil
}

// ListActive returns all active rules, oldest first
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	return s.list(func(r *Rule) bool { return r.Active }), nil
}

func (s *InMemoryRuleStore) list(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if keep(rule) {
			out = append(out, rule.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update updates an existing rule
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}

	// Counters only move through MarkExecuted
	rule.CreatedAt = existing.CreatedAt
	rule.TimesExecuted = existing.TimesExecuted
	rule.LastExecutedAt = existing.LastExecutedAt
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	delete(s.rules, id)
	return nil
}

// MarkExecuted records a successful execution
func (s *InMemoryRuleStore) MarkExecuted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	rule.TimesExecuted++
	t := at
	rule.LastExecutedAt = &t
	return nil
}
