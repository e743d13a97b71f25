package rules

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Executor applies actions to diets through the DietStore. Each successful
// action results in exactly one UpdateDiet call carrying the full new meal
// list or the full new target macros.
type Executor struct {
	diets DietStore
	newID func() string
}

// NewExecutor creates an executor. newID generates meal ids; nil uses UUIDs.
func NewExecutor(diets DietStore, newID func() string) *Executor {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Executor{diets: diets, newID: newID}
}

// Execute re-reads the diet, applies action to it and writes the result back.
// An empty day means the action is not scoped to a day.
func (x *Executor) Execute(ctx context.Context, action Action, dietID string, day Weekday) (*Result, error) {
	diet, err := x.diets.GetDiet(ctx, dietID)
	if err != nil {
		return nil, err
	}

	var patch DietPatch
	var details []string

	switch a := action.(type) {
	case AddMealAction:
		patch, details = x.addMeal(diet, a.MealSpec, a.MealType, day)
	case AddDessertAction:
		mealType := a.MealType
		if mealType == "" {
			mealType = DefaultDessertMealType
		}
		patch, details = x.addMeal(diet, a.MealSpec, mealType, day)
	case AdjustMacrosAction:
		patch, details = adjustMacros(diet, a)
	case RemoveMealAction:
		patch, details = removeMeals(diet, a.MealType, day)
	case UnknownAction:
		return nil, fmt.Errorf("%w: %s", ErrActionNotImplemented, a.Kind)
	default:
		return nil, fmt.Errorf("%w: %T", ErrActionNotImplemented, action)
	}

	if _, err := x.diets.UpdateDiet(ctx, dietID, patch); err != nil {
		return nil, fmt.Errorf("failed to update diet %s: %w", dietID, err)
	}

	if details == nil {
		details = []string{}
	}
	return &Result{ChangesApplied: len(details), Details: details}, nil
}

func (x *Executor) addMeal(diet *Diet, spec MealSpec, mealType string, day Weekday) (DietPatch, []string) {
	meal := Meal{
		ID:     x.newID(),
		Name:   spec.Name,
		Type:   mealType,
		Day:    day,
		Macros: spec.macros(),
	}
	meals := make([]Meal, 0, len(diet.Meals)+1)
	meals = append(meals, diet.Meals...)
	meals = append(meals, meal)

	detail := fmt.Sprintf("added %q", spec.Name)
	if mealType != "" {
		detail += " as " + mealType
	}
	if day != "" {
		detail += " on " + string(day)
	}
	return DietPatch{Meals: &meals}, []string{detail}
}

func adjustMacros(diet *Diet, a AdjustMacrosAction) (DietPatch, []string) {
	next := diet.Macros
	var details []string

	adjust := func(name string, target *float64, delta float64) {
		if delta == 0 {
			return
		}
		before := *target
		*target += delta
		details = append(details, fmt.Sprintf("%s: %s -> %s (%+g)", name, formatAmount(before), formatAmount(*target), delta))
	}
	adjust("calories", &next.Calories, a.Calories)
	adjust("protein", &next.Protein, a.Protein)
	adjust("carbs", &next.Carbs, a.Carbs)
	adjust("fat", &next.Fat, a.Fat)

	return DietPatch{Macros: &next}, details
}

func removeMeals(diet *Diet, mealType string, day Weekday) (DietPatch, []string) {
	kept := make([]Meal, 0, len(diet.Meals))
	var details []string
	for _, m := range diet.Meals {
		if m.Type == mealType && (day == "" || m.Day == day) {
			details = append(details, fmt.Sprintf("removed %s %q", m.Type, m.Name))
			continue
		}
		kept = append(kept, m)
	}
	return DietPatch{Meals: &kept}, details
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
