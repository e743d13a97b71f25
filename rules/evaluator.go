package rules

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// DefaultFeedbackWindow is how far back the feedback fallback scans history
const DefaultFeedbackWindow = 24 * time.Hour

// celCostLimit bounds the runtime cost of a single expression evaluation
const celCostLimit = 1000000

// Evaluator decides whether a condition holds for a diet, an optional day and an
// optional event context. It never mutates its inputs.
// Compiled expressions are cached and safe for concurrent use.
type Evaluator struct {
	feedback FeedbackSource
	window   time.Duration
	now      func() time.Time

	env      *cel.Env
	programs map[string]cel.Program // expression -> compiled program
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator. feedback may be nil, in which case the
// feedback conditions only hold on event-supplied feedback.
func NewEvaluator(feedback FeedbackSource, window time.Duration, now func() time.Time) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("dieta", cel.DynType),
		cel.Variable("dia", cel.StringType),
		cel.Variable("evento", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if window <= 0 {
		window = DefaultFeedbackWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		feedback: feedback,
		window:   window,
		now:      now,
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate reports whether cond holds. An empty day means no day was supplied;
// day-based conditions are then false.
func (ev *Evaluator) Evaluate(ctx context.Context, cond Condition, diet *Diet, day Weekday, ectx *EventContext) (bool, error) {
	switch c := cond.(type) {
	case WeekdayCondition:
		return day != "" && containsWeekday(c.Days, day), nil

	case DayOffCondition:
		return day != "" && diet.Days[day].HasTag(c.tag()), nil

	case DayTagCondition:
		if day == "" {
			return false, nil
		}
		info := diet.Days[day]
		for _, tag := range c.Tags {
			if info.HasTag(tag) {
				return true, nil
			}
		}
		return false, nil

	case LowAdherenceCondition:
		return effectiveCompliance(diet, ectx) < c.threshold(), nil

	case LowComplianceCondition:
		return effectiveCompliance(diet, ectx) < c.threshold(), nil

	case NegativeFeedbackCondition:
		return ev.feedbackBelow(ctx, c.withDefault(DefaultNegativeThreshold), diet, ectx)

	case LowFeedbackCondition:
		return ev.feedbackBelow(ctx, c.withDefault(DefaultLowThreshold), diet, ectx)

	case IntakeOutOfRangeCondition:
		return intakeOutOfRange(effectiveIntake(diet, ectx), diet.Macros, c.margin()), nil

	case ExpressionCondition:
		return ev.evalExpression(c.Expression, diet, day, ectx)

	case UnknownCondition:
		return false, fmt.Errorf("%w: %s", ErrConditionNotImplemented, c.Kind)

	default:
		return false, fmt.Errorf("%w: %T", ErrConditionNotImplemented, cond)
	}
}

// effectiveCompliance prefers the event's compliance over the diet's adherence
func effectiveCompliance(diet *Diet, ectx *EventContext) float64 {
	if ectx != nil && ectx.Compliance != nil {
		return *ectx.Compliance
	}
	return diet.Adherence
}

// effectiveIntake prefers the event's logged intake over the planned meal totals
func effectiveIntake(diet *Diet, ectx *EventContext) Macros {
	if ectx != nil && ectx.IntakeMacros != nil {
		return *ectx.IntakeMacros
	}
	return diet.MealTotals()
}

// effectiveFeedback returns the event's feedback, or the client's history inside the window
func (ev *Evaluator) effectiveFeedback(ctx context.Context, diet *Diet, ectx *EventContext) ([]Feedback, error) {
	if ectx != nil && ectx.Feedback != nil {
		return []Feedback{*ectx.Feedback}, nil
	}
	if ev.feedback == nil {
		return nil, nil
	}

	history, err := ev.feedback.ClientFeedback(ctx, diet.ID, diet.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback history: %w", err)
	}

	cutoff := ev.now().Add(-ev.window)
	recent := make([]Feedback, 0, len(history))
	for _, f := range history {
		if !f.RecordedAt.Before(cutoff) {
			recent = append(recent, f)
		}
	}
	return recent, nil
}

func (ev *Evaluator) feedbackBelow(ctx context.Context, th FeedbackThresholds, diet *Diet, ectx *EventContext) (bool, error) {
	entries, err := ev.effectiveFeedback(ctx, diet, ectx)
	if err != nil {
		return false, err
	}
	for _, f := range entries {
		if feedbackMatches(f, th) {
			return true, nil
		}
	}
	return false, nil
}

// feedbackMatches is true when either score is strictly below its threshold.
// Scores <= 0 were not recorded and never match.
func feedbackMatches(f Feedback, th FeedbackThresholds) bool {
	return (f.Sensation > 0 && f.Sensation < th.Sensation) ||
		(f.Satiety > 0 && f.Satiety < th.Satiety)
}

// intakeOutOfRange is true when any macro deviates from target by more than margin percent
func intakeOutOfRange(actual, target Macros, margin float64) bool {
	pairs := [4][2]float64{
		{actual.Calories, target.Calories},
		{actual.Protein, target.Protein},
		{actual.Carbs, target.Carbs},
		{actual.Fat, target.Fat},
	}
	for _, p := range pairs {
		if math.Abs(p[0]-p[1]) > p[1]*margin/100 {
			return true
		}
	}
	return false
}

// CompileExpression compiles and caches expr. It is called when a rule is
// saved so broken expressions are rejected before they reach the ledger.
func (ev *Evaluator) CompileExpression(expr string) (cel.Program, error) {
	ev.mu.RLock()
	prog, ok := ev.programs[expr]
	ev.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := ev.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := ev.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	ev.mu.Lock()
	ev.programs[expr] = prog
	ev.mu.Unlock()
	return prog, nil
}

// evalExpression runs a CEL condition. Non-boolean results are false.
func (ev *Evaluator) evalExpression(expr string, diet *Diet, day Weekday, ectx *EventContext) (bool, error) {
	prog, err := ev.CompileExpression(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{
		"dieta":  dietFacts(diet),
		"dia":    string(day),
		"evento": eventFacts(ectx),
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

func macroFacts(m Macros) map[string]any {
	return map[string]any{
		"calorias":      m.Calories,
		"proteinas":     m.Protein,
		"carbohidratos": m.Carbs,
		"grasas":        m.Fat,
	}
}

func dietFacts(d *Diet) map[string]any {
	meals := make([]any, 0, len(d.Meals))
	for _, m := range d.Meals {
		meals = append(meals, map[string]any{
			"id":     m.ID,
			"nombre": m.Name,
			"tipo":   m.Type,
			"dia":    string(m.Day),
			"macros": macroFacts(m.Macros),
		})
	}
	days := make(map[string]any, len(d.Days))
	for day, info := range d.Days {
		tags := make([]any, 0, len(info.Tags))
		for _, t := range info.Tags {
			tags = append(tags, t)
		}
		days[string(day)] = map[string]any{"tags": tags}
	}
	return map[string]any{
		"id":         d.ID,
		"clienteId":  d.ClientID,
		"adherencia": d.Adherence,
		"macros":     macroFacts(d.Macros),
		"comidas":    meals,
		"dias":       days,
	}
}

func eventFacts(ectx *EventContext) map[string]any {
	facts := map[string]any{}
	if ectx == nil {
		return facts
	}
	if ectx.Feedback != nil {
		facts["feedback"] = map[string]any{
			"sensacion": ectx.Feedback.Sensation,
			"saciedad":  ectx.Feedback.Satiety,
		}
	}
	if ectx.IntakeMacros != nil {
		facts["ingestaMacros"] = macroFacts(*ectx.IntakeMacros)
	}
	if ectx.Compliance != nil {
		facts["cumplimiento"] = *ectx.Compliance
	}
	return facts
}
