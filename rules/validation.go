package rules

import (
	"fmt"
	"strings"
)

// Field limits
const (
	maxNameLength       = 200
	maxDescriptionLen   = 2000
	maxDietIDs          = 1000
	maxExpressionLength = 4096
)

// ValidateRule checks a rule the way the rule editor does before saving it.
// CEL compilation is checked separately by the engine. Every error wraps ErrInvalidRule.
func ValidateRule(r *Rule) error {
	if err := validateRule(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

func validateRule(r *Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("name length %d exceeds maximum of %d characters", len(r.Name), maxNameLength)
	}
	if len(r.Description) > maxDescriptionLen {
		return fmt.Errorf("description length %d exceeds maximum of %d characters", len(r.Description), maxDescriptionLen)
	}
	if strings.TrimSpace(r.CoachID) == "" {
		return fmt.Errorf("coach id cannot be empty")
	}

	// A rule that does not apply to every diet must name at least one
	if !r.ApplyToAll && len(r.DietIDs) == 0 {
		return fmt.Errorf("dietIds must not be empty when applyToAll is false")
	}
	if len(r.DietIDs) > maxDietIDs {
		return fmt.Errorf("rule targets %d diets, maximum allowed is %d", len(r.DietIDs), maxDietIDs)
	}
	for _, id := range r.DietIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("dietIds contains an empty id")
		}
	}

	if err := validateFrequency(r.Frequency, r.Recurrence); err != nil {
		return err
	}
	if err := validateCondition(r.Condition); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	if err := validateAction(r.Action); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}
	return nil
}

func validateFrequency(f Frequency, p *RecurrencePattern) error {
	switch f {
	case FrequencyOnDemand, FrequencyDaily, FrequencyWeekly:
	case FrequencyRecurring:
		if p == nil {
			return fmt.Errorf("frequency %q requires a recurrence pattern", f)
		}
	default:
		return fmt.Errorf("invalid frequency %q (must be one of: %s, %s, %s, %s)",
			f, FrequencyOnDemand, FrequencyDaily, FrequencyWeekly, FrequencyRecurring)
	}

	if p == nil {
		return nil
	}
	switch p.Type {
	case RecurrenceDaily:
	case RecurrenceWeekly:
		if len(p.Days) == 0 {
			return fmt.Errorf("weekly recurrence must name at least one day")
		}
		if err := validateWeekdays(p.Days); err != nil {
			return fmt.Errorf("recurrence: %w", err)
		}
	case RecurrenceMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("monthly recurrence day %d out of range 1-31", p.DayOfMonth)
		}
	default:
		return fmt.Errorf("invalid recurrence type %q", p.Type)
	}
	return nil
}

func validateWeekdays(days []Weekday) error {
	for _, d := range days {
		if canonical, ok := ParseWeekday(string(d)); !ok || canonical != d {
			return fmt.Errorf("unknown weekday %q", d)
		}
	}
	return nil
}

// normalizeWeekdays rewrites accented or capitalised day names to their stored form.
// Unknown names are left for validation to reject.
func normalizeWeekdays(days []Weekday) []Weekday {
	if days == nil {
		return nil
	}
	out := make([]Weekday, len(days))
	for i, d := range days {
		if canonical, ok := ParseWeekday(string(d)); ok {
			out[i] = canonical
		} else {
			out[i] = d
		}
	}
	return out
}

// normalizeRule canonicalises the day names of the condition and the recurrence pattern
func normalizeRule(r *Rule) {
	if c, ok := r.Condition.(WeekdayCondition); ok {
		r.Condition = WeekdayCondition{Days: normalizeWeekdays(c.Days)}
	}
	if r.Recurrence != nil {
		p := *r.Recurrence
		p.Days = normalizeWeekdays(p.Days)
		r.Recurrence = &p
	}
}

func validatePercent(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s %v out of range 0-100", name, v)
	}
	return nil
}

func validateThresholds(t FeedbackThresholds) error {
	if t.Sensation < 0 || t.Sensation > 5 {
		return fmt.Errorf("sensationThreshold %v out of range 0-5", t.Sensation)
	}
	if t.Satiety < 0 || t.Satiety > 5 {
		return fmt.Errorf("satietyThreshold %v out of range 0-5", t.Satiety)
	}
	return nil
}

func validateCondition(cond Condition) error {
	switch c := cond.(type) {
	case nil:
		return fmt.Errorf("condition is required")
	case WeekdayCondition:
		if len(c.Days) == 0 {
			return fmt.Errorf("%s requires at least one day", c.Type())
		}
		return validateWeekdays(c.Days)
	case DayOffCondition:
		return nil
	case DayTagCondition:
		if len(c.Tags) == 0 {
			return fmt.Errorf("%s requires at least one tag", c.Type())
		}
		return nil
	case LowAdherenceCondition:
		return validatePercent("minPercent", c.MinPercent)
	case LowComplianceCondition:
		return validatePercent("minPercent", c.MinPercent)
	case NegativeFeedbackCondition:
		return validateThresholds(c.FeedbackThresholds)
	case LowFeedbackCondition:
		return validateThresholds(c.FeedbackThresholds)
	case IntakeOutOfRangeCondition:
		return validatePercent("marginPercent", c.MarginPercent)
	case ExpressionCondition:
		if strings.TrimSpace(c.Expression) == "" {
			return fmt.Errorf("expression cannot be empty")
		}
		if len(c.Expression) > maxExpressionLength {
			return fmt.Errorf("expression length %d exceeds maximum of %d characters", len(c.Expression), maxExpressionLength)
		}
		return nil
	case UnknownCondition:
		return fmt.Errorf("unknown condition type %q", c.Kind)
	default:
		return fmt.Errorf("unsupported condition %T", cond)
	}
}

func validateMealSpec(s MealSpec) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("meal name cannot be empty")
	}
	if s.Calories < 0 || s.Protein < 0 || s.Carbs < 0 || s.Fat < 0 {
		return fmt.Errorf("meal macros cannot be negative")
	}
	return nil
}

func validateAction(action Action) error {
	switch a := action.(type) {
	case nil:
		return fmt.Errorf("action is required")
	case AddMealAction:
		return validateMealSpec(a.MealSpec)
	case AddDessertAction:
		return validateMealSpec(a.MealSpec)
	case AdjustMacrosAction:
		return nil
	case RemoveMealAction:
		if strings.TrimSpace(a.MealType) == "" {
			return fmt.Errorf("%s requires a meal type", a.Type())
		}
		return nil
	case UnknownAction:
		return fmt.Errorf("unknown action type %q", a.Kind)
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
}
