package rules

import (
	"context"
	"errors"
	"testing"
	"time"
)

func weekendRule(dietIDs ...string) *Rule {
	r := sampleRule("fin de semana", DayOffCondition{}, AddDessertAction{MealSpec{Name: "Helado", Calories: 200}}, dietIDs...)
	r.Frequency = FrequencyRecurring
	r.Recurrence = &RecurrencePattern{Type: RecurrenceWeekly, Days: []Weekday{Saturday, Sunday}}
	return r
}

// TestRunRecurringWeeklyPattern runs the same weekend rule on a Tuesday and a Saturday
func TestRunRecurringWeeklyPattern(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		execs int
	}{
		{"tuesday is not due", tuesday, 0},
		{"saturday runs every diet in scope", saturday, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, newFakeDiets(sampleDiet("d1"), sampleDiet("d2"), sampleDiet("d3")),
				WithClock(fixedClock(tt.now)))
			rule := env.create(t, weekendRule("d1", "d2"))

			records, err := env.engine.RunRecurring(context.Background())
			if err != nil {
				t.Fatalf("RunRecurring() failed: %v", err)
			}
			if len(records) != tt.execs {
				t.Fatalf("expected %d records, got %d", tt.execs, len(records))
			}
			for _, exec := range records {
				if exec.RuleID != rule.ID || exec.Trigger != TriggerRecurring || !exec.Confirmed {
					t.Errorf("unexpected record %+v", exec)
				}
				if !exec.Success {
					t.Errorf("saturday is tagged libre, expected success: %+v", exec)
				}
			}
			if env.diets.updateCount("d3") != 0 {
				t.Error("diet outside the scope should not be touched")
			}
		})
	}
}

func TestRunRecurringPassesWeekdayAsDay(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")), WithClock(fixedClock(saturday)))
	rule := weekendRule("d1")
	rule.Action = RemoveMealAction{MealType: "merienda"}
	env.create(t, rule)

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 1 || records[0].Result.ChangesApplied != 1 {
		t.Fatalf("expected one removal scoped to saturday, got %+v", records)
	}

	meals := env.diets.diet(t, "d1").Meals
	for _, m := range meals {
		if m.Type == "merienda" && m.Day == Saturday {
			t.Error("saturday snack should have been removed")
		}
	}
	if len(meals) != 3 {
		t.Errorf("expected the tuesday snack to remain, got %d meals", len(meals))
	}
}

func TestRunRecurringSelection(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")), WithClock(fixedClock(saturday)))

	daily := sampleRule("daily", LowAdherenceCondition{MinPercent: 100}, AdjustMacrosAction{Calories: 1}, "d1")
	daily.Frequency = FrequencyRecurring
	daily.Recurrence = &RecurrencePattern{Type: RecurrenceDaily}
	env.create(t, daily)

	monthlyDue := sampleRule("monthly due", LowAdherenceCondition{MinPercent: 100}, AdjustMacrosAction{Calories: 1}, "d1")
	monthlyDue.Frequency = FrequencyRecurring
	monthlyDue.Recurrence = &RecurrencePattern{Type: RecurrenceMonthly, DayOfMonth: 8}
	env.create(t, monthlyDue)

	monthlyLater := sampleRule("monthly later", LowAdherenceCondition{MinPercent: 100}, AdjustMacrosAction{Calories: 1}, "d1")
	monthlyLater.Frequency = FrequencyRecurring
	monthlyLater.Recurrence = &RecurrencePattern{Type: RecurrenceMonthly, DayOfMonth: 9}
	env.create(t, monthlyLater)

	inactive := weekendRule("d1")
	inactive.Active = false
	env.create(t, inactive)

	// Weekly pattern but not a recurring rule
	onDemand := weekendRule("d1")
	onDemand.Frequency = FrequencyOnDemand
	env.create(t, onDemand)

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected daily and monthly-due records, got %d", len(records))
	}
	if got := env.diets.diet(t, "d1").Macros.Calories; got != 2002 {
		t.Errorf("expected both rules applied in sequence, calories %v", got)
	}
}

// TestRunRecurringSkipsMissingDiets checks ids that no longer resolve are ignored
func TestRunRecurringSkipsMissingDiets(t *testing.T) {
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1")), WithClock(fixedClock(saturday)))
	env.create(t, weekendRule("deleted", "d1"))

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 1 || records[0].DietID != "d1" {
		t.Errorf("expected a single record for d1, got %+v", records)
	}
}

// TestRunRecurringIsolatesFailures checks one failing diet does not abort the sweep
func TestRunRecurringIsolatesFailures(t *testing.T) {
	diets := newFakeDiets(sampleDiet("d1"), sampleDiet("d2"), sampleDiet("d3"))
	env := newTestEnv(t, diets, WithClock(fixedClock(saturday)), WithWorkers(2))
	env.create(t, weekendRule("d1", "d2", "d3"))

	// d2 resolves during planning but fails when the runner reads it
	failing := &flakyDiets{fakeDiets: diets, failID: "d2", after: 1}
	env.engine.diets = failing
	env.engine.executor = NewExecutor(failing, nil)

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected records for d1 and d3, got %d", len(records))
	}
	for _, exec := range records {
		if exec.DietID == "d2" {
			t.Error("d2 should have failed")
		}
	}
}

func TestRunRecurringApplyToAll(t *testing.T) {
	other := sampleDiet("d3")
	other.CoachID = "coach-2"
	env := newTestEnv(t, newFakeDiets(sampleDiet("d1"), sampleDiet("d2"), other), WithClock(fixedClock(saturday)))

	rule := weekendRule()
	rule.ApplyToAll = true
	env.create(t, rule)

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected one record per diet of coach-1, got %d", len(records))
	}
	if env.diets.updateCount("d3") != 0 {
		t.Error("diet of another coach should not be touched")
	}
}

// TestRunRecurringApplyToAllCoversUnownedDiets keeps the sweep and the runner
// on the same scope for diets without a coach
func TestRunRecurringApplyToAllCoversUnownedDiets(t *testing.T) {
	unowned := sampleDiet("d1")
	unowned.CoachID = ""
	env := newTestEnv(t, newFakeDiets(unowned), WithClock(fixedClock(saturday)))

	rule := weekendRule()
	rule.ApplyToAll = true
	rule = env.create(t, rule)

	exec, err := env.engine.ExecuteRule(context.Background(), rule.ID, "d1", ExecuteOptions{Day: Saturday})
	if err != nil || !exec.Success {
		t.Fatalf("ExecuteRule() = %+v, %v; expected success", exec, err)
	}

	records, err := env.engine.RunRecurring(context.Background())
	if err != nil {
		t.Fatalf("RunRecurring() failed: %v", err)
	}
	if len(records) != 1 || records[0].DietID != "d1" {
		t.Fatalf("expected one record for d1, got %+v", records)
	}
}

// flakyDiets fails GetDiet for failID after the first `after` successful reads
type flakyDiets struct {
	*fakeDiets
	failID string
	after  int
	reads  int
}

func (f *flakyDiets) GetDiet(ctx context.Context, id string) (*Diet, error) {
	if id == f.failID {
		f.fakeDiets.mu.Lock()
		f.reads++
		fail := f.reads > f.after
		f.fakeDiets.mu.Unlock()
		if fail {
			return nil, errors.New("diet service timeout")
		}
	}
	return f.fakeDiets.GetDiet(ctx, id)
}
