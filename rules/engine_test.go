package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestNewEngine verifies the constructor wires defaults
func TestNewEngine(t *testing.T) {
	diets := newFakeDiets()
	engine, err := NewEngine(NewInMemoryRuleStore(), NewInMemoryLedger(), diets, nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	if engine == nil || engine.Evaluator() == nil {
		t.Fatal("NewEngine() should return an engine with an evaluator")
	}
}

// TestExecuteRuleLowAdherenceScenario runs the adherence rule end to end
func TestExecuteRuleLowAdherenceScenario(t *testing.T) {
	diet := sampleDiet("d1")
	diet.Adherence = 65
	env := newTestEnv(t, newFakeDiets(diet))
	ctx := context.Background()

	rule := env.create(t, sampleRule("subir calorías", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 150}, "d1"))

	exec, err := env.engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteRule() failed: %v", err)
	}
	if !exec.Success || exec.Status != StatusApplied {
		t.Fatalf("expected applied execution, got %+v", exec)
	}
	if exec.Result == nil || exec.Result.ChangesApplied != 1 {
		t.Errorf("expected 1 change, got %+v", exec.Result)
	}
	if exec.Trigger != TriggerManual {
		t.Errorf("expected manual trigger, got %s", exec.Trigger)
	}

	if got := env.diets.diet(t, "d1").Macros.Calories; got != 2150 {
		t.Errorf("expected calories 2150, got %v", got)
	}

	stored, err := env.engine.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule() failed: %v", err)
	}
	if stored.TimesExecuted != 1 {
		t.Errorf("expected TimesExecuted 1, got %d", stored.TimesExecuted)
	}
	if stored.LastExecutedAt == nil || !stored.LastExecutedAt.Equal(tuesday) {
		t.Errorf("expected LastExecutedAt %v, got %v", tuesday, stored.LastExecutedAt)
	}

	history := env.history(t, rule.ID)
	if len(history) != 1 || history[0].ID != exec.ID {
		t.Errorf("expected the execution in the history, got %+v", history)
	}
}

func TestExecuteRuleConditionNotMet(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")))
	ctx := context.Background()

	rule := env.create(t, sampleRule("sábados", WeekdayCondition{Days: []Weekday{Saturday}}, AdjustMacrosAction{Calories: 100}, "d1"))

	exec, err := env.engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{Day: Monday})
	if err != nil {
		t.Fatalf("ExecuteRule() failed: %v", err)
	}
	if exec.Success || exec.Status != StatusConditionNotMet || exec.Error != "condition not met" {
		t.Errorf("expected condition_not_met entry, got %+v", exec)
	}
	if env.diets.updateCount("d1") != 0 {
		t.Error("diet should not be patched when the condition does not hold")
	}

	stored, _ := env.engine.GetRule(ctx, rule.ID)
	if stored.TimesExecuted != 0 || stored.LastExecutedAt != nil {
		t.Errorf("counters should not move on a non-match, got %d", stored.TimesExecuted)
	}
	if len(env.history(t, rule.ID)) != 1 {
		t.Error("a non-match should still be recorded")
	}
}

// TestExecuteRuleCallerErrors checks the errors that never reach the ledger
func TestExecuteRuleCallerErrors(t *testing.T) {
	diets := newFakeDiets(sampleDiet("d1"), sampleDiet("d2"))
	other := sampleDiet("d3")
	other.CoachID = "coach-2"
	diets.diets["d3"] = other

	env := newTestEnv(t, diets)
	ctx := context.Background()

	scoped := env.create(t, sampleRule("scoped", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))
	inactive := sampleRule("inactive", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "d1")
	inactive.Active = false
	inactive = env.create(t, inactive)
	gated := sampleRule("gated", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "d1")
	gated.RequiresConfirmation = true
	gated = env.create(t, gated)
	all := sampleRule("all", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1})
	all.ApplyToAll = true
	all = env.create(t, all)
	ghostDiet := env.create(t, sampleRule("ghost diet", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "gone"))

	tests := []struct {
		name   string
		ruleID string
		dietID string
		opts   ExecuteOptions
		want   error
	}{
		{"unknown rule", "nope", "d1", ExecuteOptions{}, ErrRuleNotFound},
		{"inactive rule", inactive.ID, "d1", ExecuteOptions{}, ErrRuleInactive},
		{"diet outside explicit scope", scoped.ID, "d2", ExecuteOptions{}, ErrRuleOutOfScope},
		{"diet of another coach", all.ID, "d3", ExecuteOptions{}, ErrRuleOutOfScope},
		{"missing confirmation", gated.ID, "d1", ExecuteOptions{}, ErrConfirmationRequired},
		{"unresolvable diet", ghostDiet.ID, "gone", ExecuteOptions{}, ErrDietNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.ExecuteRule(ctx, tt.ruleID, tt.dietID, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsCallerError(err) {
				t.Errorf("expected a caller error, got %v", err)
			}
			if len(env.history(t, tt.ruleID)) != 0 {
				t.Error("caller errors must not be recorded")
			}
		})
	}
}

// TestExecuteRuleConfirmationSkipsEvaluation checks the gate fires before the evaluator runs
func TestExecuteRuleConfirmationSkipsEvaluation(t *testing.T) {
	feedback := &countingFeedback{}
	diets := newFakeDiets(sampleDiet("d1"))
	store := NewInMemoryRuleStore()
	engine, err := NewEngine(store, NewInMemoryLedger(), diets, feedback,
		WithLogger(discardLogger()), WithClock(fixedClock(tuesday)))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	ctx := context.Background()

	rule := sampleRule("gated", NegativeFeedbackCondition{}, AdjustMacrosAction{Calories: 1}, "d1")
	rule.RequiresConfirmation = true
	rule, err = engine.CreateRule(ctx, rule)
	if err != nil {
		t.Fatalf("CreateRule() failed: %v", err)
	}

	if _, err := engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{}); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if n := feedback.calls.Load(); n != 0 {
		t.Errorf("condition should not be evaluated, feedback read %d times", n)
	}

	exec, err := engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{Confirmed: true})
	if err != nil {
		t.Fatalf("confirmed ExecuteRule() failed: %v", err)
	}
	if !exec.Confirmed {
		t.Error("expected the execution to be marked confirmed")
	}
	if feedback.calls.Load() != 1 {
		t.Error("confirmed execution should evaluate the condition")
	}
}

func TestExecuteRuleUnknownActionIsRecorded(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")))
	ctx := context.Background()

	// Stored directly: the engine refuses to create rules with unknown variants
	rule := sampleRule("legacy", LowAdherenceCondition{MinPercent: 100}, UnknownAction{Kind: "enviar-email"}, "d1")
	rule.ID = "legacy"
	if err := env.store.Add(ctx, rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	exec, err := env.engine.ExecuteRule(ctx, "legacy", "d1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteRule() failed: %v", err)
	}
	if exec.Success || exec.Status != StatusFailed {
		t.Errorf("expected failed entry, got %+v", exec)
	}
	if exec.Error != "action type not implemented: enviar-email" {
		t.Errorf("unexpected error %q", exec.Error)
	}
}

func TestExecuteRuleUsesEventContext(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")))
	ctx := context.Background()

	rule := env.create(t, sampleRule("cumplimiento", LowComplianceCondition{}, AdjustMacrosAction{Carbs: -20}, "d1"))

	exec, err := env.engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{Event: &EventContext{Compliance: ptr(40.0)}})
	if err != nil {
		t.Fatalf("ExecuteRule() failed: %v", err)
	}
	if !exec.Success {
		t.Errorf("compliance 40 should trigger the rule, got %+v", exec)
	}
}

func TestCreateRuleAssignsIDAndTimestamps(t *testing.T) {
	env := newTestEnv(t, newFakeDiets())

	in := sampleRule("r", DayOffCondition{}, RemoveMealAction{MealType: "postre"}, "d1")
	in.TimesExecuted = 7
	rule := env.create(t, in)

	if rule.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if rule.CreatedAt.IsZero() || !rule.CreatedAt.Equal(rule.UpdatedAt) {
		t.Errorf("expected equal creation timestamps, got %v / %v", rule.CreatedAt, rule.UpdatedAt)
	}
	if rule.TimesExecuted != 0 {
		t.Errorf("expected counter reset, got %d", rule.TimesExecuted)
	}
	if in.ID != "" {
		t.Error("CreateRule should not modify its argument")
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := newTestEnv(t, newFakeDiets())
	ctx := context.Background()

	noScope := sampleRule("no scope", DayOffCondition{}, AdjustMacrosAction{Calories: 1})
	badExpr := sampleRule("bad expr", ExpressionCondition{Expression: `dieta.adherencia <`}, AdjustMacrosAction{Calories: 1}, "d1")

	for _, r := range []*Rule{noScope, badExpr} {
		if _, err := env.engine.CreateRule(ctx, r); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("%s: expected ErrInvalidRule, got %v", r.Name, err)
		}
	}

	rules, _ := env.engine.ListRules(ctx, "coach-1")
	if len(rules) != 0 {
		t.Errorf("invalid rules should not be stored, found %d", len(rules))
	}
}

func TestCreateRuleNormalisesWeekdays(t *testing.T) {
	env := newTestEnv(t, newFakeDiets())

	rule := sampleRule("acentos", WeekdayCondition{Days: []Weekday{"Miércoles", "sábado"}}, AdjustMacrosAction{Calories: 1}, "d1")
	rule.Frequency = FrequencyRecurring
	rule.Recurrence = &RecurrencePattern{Type: RecurrenceWeekly, Days: []Weekday{"SÁBADO"}}
	created := env.create(t, rule)

	cond := created.Condition.(WeekdayCondition)
	if cond.Days[0] != Wednesday || cond.Days[1] != Saturday {
		t.Errorf("unexpected days %v", cond.Days)
	}
	if created.Recurrence.Days[0] != Saturday {
		t.Errorf("unexpected recurrence days %v", created.Recurrence.Days)
	}
}

func TestUpdateRuleMergesPatch(t *testing.T) {
	env := newTestEnv(t, newFakeDiets())
	ctx := context.Background()

	rule := env.create(t, sampleRule("original", DayOffCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))
	time.Sleep(2 * time.Millisecond)

	updated, err := env.engine.UpdateRule(ctx, rule.ID, RulePatch{
		Name:   ptr("renamed"),
		Active: ptr(false),
		Action: RemoveMealAction{MealType: "cena"},
	})
	if err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}
	if updated.Name != "renamed" || updated.Active {
		t.Errorf("patch not applied: %+v", updated)
	}
	if _, ok := updated.Action.(RemoveMealAction); !ok {
		t.Errorf("expected action replaced, got %T", updated.Action)
	}
	if _, ok := updated.Condition.(DayOffCondition); !ok {
		t.Errorf("condition should be untouched, got %T", updated.Condition)
	}
	if !updated.UpdatedAt.After(rule.UpdatedAt) {
		t.Error("expected UpdatedAt to move forward")
	}
	if !updated.CreatedAt.Equal(rule.CreatedAt) {
		t.Error("expected CreatedAt to be preserved")
	}
}

func TestUpdateRuleRejectsInvalidPatch(t *testing.T) {
	env := newTestEnv(t, newFakeDiets())
	ctx := context.Background()

	rule := env.create(t, sampleRule("r", DayOffCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))

	_, err := env.engine.UpdateRule(ctx, rule.ID, RulePatch{DietIDs: &[]string{}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	stored, _ := env.engine.GetRule(ctx, rule.ID)
	if len(stored.DietIDs) != 1 {
		t.Error("a rejected patch should not be stored")
	}

	if _, err := env.engine.UpdateRule(ctx, "missing", RulePatch{}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestDeleteRuleKeepsHistory(t *testing.T) {
	diet := sampleDiet("d1")
	diet.Adherence = 10
	env := newTestEnv(t, newFakeDiets(diet))
	ctx := context.Background()

	rule := env.create(t, sampleRule("r", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))
	if _, err := env.engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{}); err != nil {
		t.Fatalf("ExecuteRule() failed: %v", err)
	}

	if err := env.engine.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	if _, err := env.engine.GetRule(ctx, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound after delete, got %v", err)
	}
	if err := env.engine.DeleteRule(ctx, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound on second delete, got %v", err)
	}
	if len(env.history(t, rule.ID)) != 1 {
		t.Error("history should survive rule deletion")
	}
}

// TestHistoryMostRecentFirst executes a rule at increasing times
func TestHistoryMostRecentFirst(t *testing.T) {
	diet := sampleDiet("d1")
	diet.Adherence = 10

	var mu sync.Mutex
	now := tuesday
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}

	env := newTestEnv(t, newFakeDiets(diet), WithClock(clock))
	ctx := context.Background()
	rule := env.create(t, sampleRule("r", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))

	var ids []string
	for i := 0; i < 3; i++ {
		exec, err := env.engine.ExecuteRule(ctx, rule.ID, "d1", ExecuteOptions{})
		if err != nil {
			t.Fatalf("ExecuteRule() failed: %v", err)
		}
		ids = append(ids, exec.ID)
	}

	history := env.history(t, rule.ID)
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, exec := range history {
		if exec.ID != ids[2-i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[2-i], exec.ID)
		}
	}

	stored, _ := env.engine.GetRule(ctx, rule.ID)
	if stored.TimesExecuted != 3 {
		t.Errorf("expected 3 executions counted, got %d", stored.TimesExecuted)
	}
}

// TestMutationsInvalidateCache checks that the sweep sees rules created after a cached read
func TestMutationsInvalidateCache(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")))
	ctx := context.Background()

	if rules, err := env.engine.activeRules(ctx); err != nil || len(rules) != 0 {
		t.Fatalf("expected no active rules, got %d (%v)", len(rules), err)
	}

	rule := env.create(t, sampleRule("r", DayOffCondition{}, AdjustMacrosAction{Calories: 1}, "d1"))
	rules, _ := env.engine.activeRules(ctx)
	if len(rules) != 1 {
		t.Fatalf("expected the new rule after invalidation, got %d", len(rules))
	}

	if _, err := env.engine.UpdateRule(ctx, rule.ID, RulePatch{Active: ptr(false)}); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}
	rules, _ = env.engine.activeRules(ctx)
	if len(rules) != 0 {
		t.Errorf("expected deactivated rule to drop out, got %d", len(rules))
	}
}

// TestEngineConcurrentExecute runs many executions against distinct diets
func TestEngineConcurrentExecute(t *testing.T) {
	diets := newFakeDiets()
	var ids []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		d := sampleDiet(id)
		d.Adherence = 10
		diets.diets[id] = d
		ids = append(ids, id)
	}
	env := newTestEnv(t, diets)
	ctx := context.Background()

	rule := env.create(t, sampleRule("r", LowAdherenceCondition{}, AdjustMacrosAction{Calories: 10}, ids...))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.ExecuteRule(ctx, rule.ID, id, ExecuteOptions{}); err != nil {
				t.Errorf("ExecuteRule(%s) failed: %v", id, err)
			}
		}()
	}
	wg.Wait()

	if got := len(env.history(t, rule.ID)); got != len(ids) {
		t.Errorf("expected %d entries, got %d", len(ids), got)
	}
	stored, _ := env.engine.GetRule(ctx, rule.ID)
	if stored.TimesExecuted != len(ids) {
		t.Errorf("expected %d executions counted, got %d", len(ids), stored.TimesExecuted)
	}
}
