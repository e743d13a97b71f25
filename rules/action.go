package rules

import (
	"encoding/json"
	"fmt"
)

// ActionType is the discriminator of the Action union
type ActionType string

const (
	ActionAddMeal      ActionType = "añadir-comida"
	ActionAddDessert   ActionType = "añadir-postre"
	ActionAdjustMacros ActionType = "ajustar-macros"
	ActionRemoveMeal   ActionType = "eliminar-comida"
)

// DefaultDessertMealType is the meal type given to añadir-postre meals that do not name one
const DefaultDessertMealType = "postre"

// Action is the closed set of diet mutations. Only types in this package implement it.
type Action interface {
	Type() ActionType
	action()
}

// MealSpec describes the meal synthesised by the add-meal actions
type MealSpec struct {
	Name     string  `json:"name"`
	MealType string  `json:"mealType,omitempty"`
	Calories float64 `json:"calories,omitempty"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`
}

func (s MealSpec) macros() Macros {
	return Macros{Calories: s.Calories, Protein: s.Protein, Carbs: s.Carbs, Fat: s.Fat}
}

// AddMealAction appends a new meal to the plan
type AddMealAction struct {
	MealSpec
}

// AddDessertAction appends a new dessert to the plan
type AddDessertAction struct {
	MealSpec
}

// AdjustMacrosAction adds its deltas to the diet's target macros. Omitted deltas are 0.
type AdjustMacrosAction struct {
	Calories float64 `json:"calories,omitempty"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`
}

// RemoveMealAction removes every meal of MealType
type RemoveMealAction struct {
	MealType string `json:"mealType"`
}

// UnknownAction keeps a stored action whose type this build does not know
type UnknownAction struct {
	Kind   ActionType
	Params json.RawMessage
}

func (AddMealAction) Type() ActionType      { return ActionAddMeal }
func (AddDessertAction) Type() ActionType   { return ActionAddDessert }
func (AdjustMacrosAction) Type() ActionType { return ActionAdjustMacros }
func (RemoveMealAction) Type() ActionType   { return ActionRemoveMeal }
func (a UnknownAction) Type() ActionType    { return a.Kind }

func (AddMealAction) action()      {}
func (AddDessertAction) action()   {}
func (AdjustMacrosAction) action() {}
func (RemoveMealAction) action()   {}
func (UnknownAction) action()      {}

type actionEnvelope struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalAction encodes a as {"type": ..., "params": {...}}
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var params []byte
	var err error
	if u, ok := a.(UnknownAction); ok {
		params = u.Params
	} else {
		params, err = json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", a.Type(), err)
		}
	}
	return json.Marshal(actionEnvelope{Type: a.Type(), Params: params})
}

// UnmarshalAction decodes the envelope written by MarshalAction.
// Unrecognised types decode to UnknownAction.
func UnmarshalAction(data []byte) (Action, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	var a Action
	var err error
	switch env.Type {
	case ActionAddMeal:
		var v AddMealAction
		err = decodeParams(env.Params, &v)
		a = v
	case ActionAddDessert:
		v := AddDessertAction{MealSpec{MealType: DefaultDessertMealType}}
		err = decodeParams(env.Params, &v)
		a = v
	case ActionAdjustMacros:
		var v AdjustMacrosAction
		err = decodeParams(env.Params, &v)
		a = v
	case ActionRemoveMeal:
		var v RemoveMealAction
		err = decodeParams(env.Params, &v)
		a = v
	case "":
		return nil, fmt.Errorf("decode action: missing type")
	default:
		a = UnknownAction{Kind: env.Type, Params: env.Params}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s params: %w", env.Type, err)
	}
	return a, nil
}
