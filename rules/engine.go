package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/dietrules/internal/telemetry"
)

// DefaultWorkers bounds the per-diet parallelism of the recurring sweep
const DefaultWorkers = 4

// Engine owns the rule lifecycle and runs rules against diets.
// Safe for concurrent use; it keeps no state besides the injected stores.
type Engine struct {
	store     RuleStore
	ledger    Ledger
	diets     DietStore
	feedback  FeedbackSource
	cache     RulesCache
	notifier  Notifier
	logger    *slog.Logger
	evaluator *Evaluator
	executor  *Executor

	now            func() time.Time
	newID          func() string
	workers        int
	feedbackWindow time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithCache sets the active rules cache (default: in-memory)
func WithCache(c RulesCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithNotifier sets the coach notifier. Without one, notifications are only logged.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger (default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the time source used for ledger timestamps and the sweep date
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator for rule, execution, meal and pending ids
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithWorkers bounds the number of diets processed concurrently by the sweep
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithFeedbackWindow sets how far back the feedback conditions look when no event is supplied
func WithFeedbackWindow(d time.Duration) Option {
	return func(e *Engine) { e.feedbackWindow = d }
}

// NewEngine creates a rule engine. feedback may be nil.
func NewEngine(store RuleStore, ledger Ledger, diets DietStore, feedback FeedbackSource, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:          store,
		ledger:         ledger,
		diets:          diets,
		feedback:       feedback,
		logger:         slog.Default(),
		now:            time.Now,
		newID:          uuid.NewString,
		workers:        DefaultWorkers,
		feedbackWindow: DefaultFeedbackWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}

	ev, err := NewEvaluator(feedback, e.feedbackWindow, e.now)
	if err != nil {
		return nil, err
	}
	e.evaluator = ev
	e.executor = NewExecutor(diets, e.newID)

	return e, nil
}

// Evaluator exposes the engine's condition evaluator
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// CreateRule validates and stores a new rule. An empty ID is assigned.
func (e *Engine) CreateRule(ctx context.Context, r *Rule) (*Rule, error) {
	rule := r.Clone()
	if rule.ID == "" {
		rule.ID = e.newID()
	}
	if err := e.check(rule); err != nil {
		return nil, err
	}

	if err := e.store.Add(ctx, rule); err != nil {
		return nil, err
	}
	e.invalidate(ctx)

	e.logger.Info("rule created", "rule_id", rule.ID, "coach_id", rule.CoachID, "condition", rule.Condition.Type())
	return rule, nil
}

// UpdateRule merges patch into the stored rule, revalidates and saves it
func (e *Engine) UpdateRule(ctx context.Context, id string, patch RulePatch) (*Rule, error) {
	rule, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(rule)
	if err := e.check(rule); err != nil {
		return nil, err
	}

	if err := e.store.Update(ctx, rule); err != nil {
		return nil, err
	}
	e.invalidate(ctx)

	e.logger.Info("rule updated", "rule_id", rule.ID)
	return rule, nil
}

// DeleteRule removes a rule. Its execution history is kept.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.invalidate(ctx)

	e.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// GetRule returns a rule by id
func (e *Engine) GetRule(ctx context.Context, id string) (*Rule, error) {
	return e.store.Get(ctx, id)
}

// ListRules returns every rule of a coach
func (e *Engine) ListRules(ctx context.Context, coachID string) ([]*Rule, error) {
	return e.store.ListByCoach(ctx, coachID)
}

// History returns a rule's executions, most recent first
func (e *Engine) History(ctx context.Context, ruleID string) ([]*Execution, error) {
	return e.ledger.History(ctx, ruleID)
}

// PendingConfirmations returns the event matches of a rule still waiting for approval
func (e *Engine) PendingConfirmations(ctx context.Context, ruleID string) ([]*PendingConfirmation, error) {
	return e.ledger.Pending(ctx, ruleID)
}

// check normalises and validates rule, compiling expression conditions
func (e *Engine) check(rule *Rule) error {
	normalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if c, ok := rule.Condition.(ExpressionCondition); ok {
		if _, err := e.evaluator.CompileExpression(c.Expression); err != nil {
			return fmt.Errorf("%w: invalid expression: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("failed to invalidate rules cache", "error", err)
	}
}

// activeRules reads the active rules through the cache
func (e *Engine) activeRules(ctx context.Context) ([]*Rule, error) {
	if rules, ok := e.cache.Get(ctx); ok {
		return rules, nil
	}

	rules, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, rules); err != nil {
		e.logger.Warn("failed to populate rules cache", "error", err)
	}
	telemetry.ActiveRules.Set(float64(len(rules)))
	return rules, nil
}

// ExecuteOptions parameterise a single rule execution
type ExecuteOptions struct {
	// Day is the weekday the rule is evaluated for; empty means none
	Day Weekday

	// Confirmed grants approval for rules that require confirmation
	Confirmed bool

	// Event carries the event values for event-class conditions
	Event *EventContext

	// Trigger is recorded on the execution (default manual)
	Trigger Trigger
}

// ExecuteRule runs one rule against one diet.
//
// Not found, inactive, out of scope and missing confirmation are returned as
// errors and never reach the ledger. Any other outcome, including a condition
// that does not hold, produces exactly one ledger entry which is returned.
func (e *Engine) ExecuteRule(ctx context.Context, ruleID, dietID string, opts ExecuteOptions) (*Execution, error) {
	rule, diet, err := e.admit(ctx, ruleID, dietID, opts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, rule, diet, opts, false)
}

// admit runs the caller checks of ExecuteRule and returns the fresh rule and diet
func (e *Engine) admit(ctx context.Context, ruleID, dietID string, opts ExecuteOptions) (*Rule, *Diet, error) {
	rule, err := e.store.Get(ctx, ruleID)
	if err != nil {
		return nil, nil, err
	}
	if !rule.Active {
		return nil, nil, fmt.Errorf("%w: %s", ErrRuleInactive, ruleID)
	}
	if !rule.ApplyToAll && !rule.Targets(dietID) {
		return nil, nil, fmt.Errorf("%w: rule %s, diet %s", ErrRuleOutOfScope, ruleID, dietID)
	}

	diet, err := e.diets.GetDiet(ctx, dietID)
	if err != nil {
		return nil, nil, err
	}
	if !inScope(rule, diet) {
		return nil, nil, fmt.Errorf("%w: rule %s, diet %s", ErrRuleOutOfScope, ruleID, dietID)
	}

	if rule.RequiresConfirmation && !opts.Confirmed {
		return nil, nil, fmt.Errorf("%w: rule %s", ErrConfirmationRequired, ruleID)
	}
	return rule, diet, nil
}

// inScope reports whether diet is targeted by rule. Rules applying to all
// diets cover the coach's diets and diets whose owner is not known.
func inScope(rule *Rule, diet *Diet) bool {
	if rule.ApplyToAll {
		return diet.CoachID == "" || diet.CoachID == rule.CoachID
	}
	return rule.Targets(diet.ID)
}

// run evaluates and executes a rule that already passed the caller checks.
// matched skips the evaluation when the caller has just seen the condition hold.
func (e *Engine) run(ctx context.Context, rule *Rule, diet *Diet, opts ExecuteOptions, matched bool) (*Execution, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	exec := &Execution{
		ID:         e.newID(),
		RuleID:     rule.ID,
		DietID:     diet.ID,
		ExecutedAt: e.now().UTC(),
		Trigger:    trigger,
		Confirmed:  opts.Confirmed,
	}

	var (
		held = matched
		err  error
	)
	if !matched {
		held, err = e.evaluator.Evaluate(ctx, rule.Condition, diet, opts.Day, opts.Event)
	}
	switch {
	case err != nil:
		exec.Status = StatusFailed
		exec.Error = err.Error()
	case !held:
		exec.Status = StatusConditionNotMet
		exec.Error = ErrConditionNotMet.Error()
	default:
		result, err := e.executor.Execute(ctx, rule.Action, diet.ID, opts.Day)
		if err != nil {
			exec.Status = StatusFailed
			exec.Error = err.Error()
		} else {
			exec.Status = StatusApplied
			exec.Success = true
			exec.Result = result
		}
	}

	if err := e.ledger.Append(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}
	telemetry.RecordExecution(string(exec.Trigger), string(exec.Status))

	if rule.RequiresConfirmation && opts.Confirmed && trigger != TriggerRecurring {
		n, err := e.ledger.ResolvePending(ctx, rule.ID, diet.ID, exec.ID, exec.ExecutedAt)
		if err != nil {
			e.logger.Warn("failed to resolve pending confirmations", "rule_id", rule.ID, "diet_id", diet.ID, "error", err)
		} else if n > 0 {
			e.logger.Info("pending confirmations resolved", "rule_id", rule.ID, "diet_id", diet.ID, "count", n)
		}
	}

	if exec.Success {
		if err := e.store.MarkExecuted(ctx, rule.ID, exec.ExecutedAt); err != nil && !errors.Is(err, ErrRuleNotFound) {
			e.logger.Warn("failed to update rule counters", "rule_id", rule.ID, "error", err)
		}
		e.logger.Info("rule applied", "rule_id", rule.ID, "diet_id", diet.ID,
			"trigger", exec.Trigger, "changes", exec.Result.ChangesApplied)
	} else {
		e.logger.Debug("rule not applied", "rule_id", rule.ID, "diet_id", diet.ID,
			"trigger", exec.Trigger, "status", exec.Status, "error", exec.Error)
	}

	return exec, nil
}
