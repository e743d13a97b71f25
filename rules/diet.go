package rules

import (
	"context"
	"time"
)

// Macros holds calories (kcal) and protein/carbohydrate/fat grams
type Macros struct {
	Calories float64 `json:"calories" yaml:"calories"`
	Protein  float64 `json:"protein" yaml:"protein"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
	Fat      float64 `json:"fat" yaml:"fat"`
}

// Add returns the element-wise sum
func (m Macros) Add(o Macros) Macros {
	return Macros{
		Calories: m.Calories + o.Calories,
		Protein:  m.Protein + o.Protein,
		Carbs:    m.Carbs + o.Carbs,
		Fat:      m.Fat + o.Fat,
	}
}

// Meal is one entry of a diet plan
type Meal struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Type   string  `json:"type" yaml:"type"`
	Day    Weekday `json:"day,omitempty" yaml:"day,omitempty"`
	Macros Macros  `json:"macros" yaml:"macros"`
}

// DayInfo is the per-day metadata of a diet
type DayInfo struct {
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HasTag reports whether the day carries tag
func (d DayInfo) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Diet is an assigned diet as exposed by the diet collaborator.
// The engine never keeps a copy; it reads and patches through DietStore.
type Diet struct {
	ID        string              `json:"id" yaml:"id"`
	ClientID  string              `json:"clientId" yaml:"clientId"`
	CoachID   string              `json:"coachId" yaml:"coachId"`
	Meals     []Meal              `json:"meals" yaml:"meals"`
	Macros    Macros              `json:"macros" yaml:"macros"`
	Adherence float64             `json:"adherence" yaml:"adherence"`
	Days      map[Weekday]DayInfo `json:"days,omitempty" yaml:"days,omitempty"`
}

// Clone returns a deep copy of d
func (d *Diet) Clone() *Diet {
	if d == nil {
		return nil
	}
	c := *d
	c.Meals = append([]Meal(nil), d.Meals...)
	if d.Days != nil {
		c.Days = make(map[Weekday]DayInfo, len(d.Days))
		for k, v := range d.Days {
			c.Days[k] = DayInfo{Tags: append([]string(nil), v.Tags...)}
		}
	}
	return &c
}

// MealTotals sums the macros of every meal in the plan
func (d *Diet) MealTotals() Macros {
	var total Macros
	for _, m := range d.Meals {
		total = total.Add(m.Macros)
	}
	return total
}

// DietPatch is a full-field replacement; nil fields are not touched
type DietPatch struct {
	Meals  *[]Meal
	Macros *Macros
}

// Feedback is a client's recorded sensation and satiety for a meal, on a 1-5 scale
type Feedback struct {
	ID         string    `json:"id,omitempty" yaml:"id,omitempty"`
	DietID     string    `json:"dietId,omitempty" yaml:"dietId,omitempty"`
	ClientID   string    `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	MealID     string    `json:"mealId,omitempty" yaml:"mealId,omitempty"`
	Sensation  float64   `json:"sensation" yaml:"sensation"`
	Satiety    float64   `json:"satiety" yaml:"satiety"`
	RecordedAt time.Time `json:"recordedAt" yaml:"recordedAt"`
}

// DietStore is the narrow read/patch interface of the diet collaborator.
// UpdateDiet is treated as atomic per call and last-write-wins.
type DietStore interface {
	// GetDiet returns ErrDietNotFound when id does not resolve
	GetDiet(ctx context.Context, id string) (*Diet, error)

	// ListDiets returns every diet owned, through its clients, by coachID,
	// plus the diets whose owner is not known
	ListDiets(ctx context.Context, coachID string) ([]*Diet, error)

	// UpdateDiet replaces the provided fields and returns the new diet
	UpdateDiet(ctx context.Context, id string, patch DietPatch) (*Diet, error)
}

// FeedbackSource exposes the client feedback history
type FeedbackSource interface {
	ClientFeedback(ctx context.Context, dietID, clientID string) ([]Feedback, error)
}
