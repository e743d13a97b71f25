package rules

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Ledger is the append-only audit trail of rule executions and of event
// matches held back for confirmation.
type Ledger interface {
	// Append records one evaluation attempt
	Append(ctx context.Context, exec *Execution) error

	// History returns the executions of ruleID, most recent first
	History(ctx context.Context, ruleID string) ([]*Execution, error)

	// AppendPending records an event match waiting for coach approval
	AppendPending(ctx context.Context, p *PendingConfirmation) error

	// Pending returns the unresolved confirmations of ruleID, most recent first
	Pending(ctx context.Context, ruleID string) ([]*PendingConfirmation, error)

	// ResolvePending marks the unresolved confirmations of ruleID for dietID
	// as approved by executionID and returns how many it resolved
	ResolvePending(ctx context.Context, ruleID, dietID, executionID string, at time.Time) (int, error)
}

// InMemoryLedger implements Ledger with in-process slices
type InMemoryLedger struct {
	executions []*Execution
	pending    []*PendingConfirmation
	mu         sync.RWMutex
}

// NewInMemoryLedger creates an empty ledger
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

// Append stores a copy of exec
func (l *InMemoryLedger) Append(_ context.Context, exec *Execution) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := *exec
	l.executions = append(l.executions, &c)
	return nil
}

// History returns copies of the rule's executions, most recent first
func (l *InMemoryLedger) History(_ context.Context, ruleID string) ([]*Execution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []*Execution{}
	for i := len(l.executions) - 1; i >= 0; i-- {
		if e := l.executions[i]; e.RuleID == ruleID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return out, nil
}

// AppendPending stores a copy of p
func (l *InMemoryLedger) AppendPending(_ context.Context, p *PendingConfirmation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := *p
	l.pending = append(l.pending, &c)
	return nil
}

// Pending returns copies of the rule's unresolved confirmations, most recent first
func (l *InMemoryLedger) Pending(_ context.Context, ruleID string) ([]*PendingConfirmation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []*PendingConfirmation{}
	for i := len(l.pending) - 1; i >= 0; i-- {
		if p := l.pending[i]; p.RuleID == ruleID && p.ResolvedAt == nil {
			c := *p
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out, nil
}

// ResolvePending stamps the open confirmations of the rule and diet
func (l *InMemoryLedger) ResolvePending(_ context.Context, ruleID, dietID, executionID string, at time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, p := range l.pending {
		if p.RuleID != ruleID || p.DietID != dietID || p.ResolvedAt != nil {
			continue
		}
		resolved := at
		p.ResolvedAt = &resolved
		p.ExecutionID = executionID
		n++
	}
	return n, nil
}
