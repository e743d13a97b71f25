package rules

import (
	"encoding/json"
	"fmt"
)

// ConditionType is the discriminator of the Condition union
type ConditionType string

const (
	ConditionWeekday          ConditionType = "dia-semana"
	ConditionDayOff           ConditionType = "dia-libre"
	ConditionDayTag           ConditionType = "tag-dia"
	ConditionLowAdherence     ConditionType = "adherencia-baja"
	ConditionNegativeFeedback ConditionType = "feedback-negativo"
	ConditionLowFeedback      ConditionType = "feedback-bajo"
	ConditionIntakeOutOfRange ConditionType = "ingesta-fuera-rango"
	ConditionLowCompliance    ConditionType = "cumplimiento-bajo"
	ConditionExpression       ConditionType = "expresion"
)

// IsEventClass reports whether conditions of this type can be triggered by a business event
func (t ConditionType) IsEventClass() bool {
	switch t {
	case ConditionNegativeFeedback, ConditionLowFeedback, ConditionIntakeOutOfRange, ConditionLowCompliance:
		return true
	}
	return false
}

// Parameter defaults. A zero or missing parameter takes the default of its variant.
const (
	DefaultMinPercent        = 70.0
	DefaultMarginPercent     = 10.0
	DefaultNegativeThreshold = 3.0
	DefaultLowThreshold      = 2.0
	DefaultDayOffTag         = "libre"
)

// Condition is the closed set of rule predicates. Only types in this package implement it.
type Condition interface {
	Type() ConditionType
	condition()
}

// WeekdayCondition holds when the evaluated day is one of Days
type WeekdayCondition struct {
	Days []Weekday `json:"days"`
}

// DayOffCondition holds when the evaluated day carries the day-off tag
type DayOffCondition struct {
	Tag string `json:"tag,omitempty"`
}

// DayTagCondition holds when the evaluated day carries any of Tags
type DayTagCondition struct {
	Tags []string `json:"tags"`
}

// LowAdherenceCondition holds when adherence is strictly below MinPercent
type LowAdherenceCondition struct {
	MinPercent float64 `json:"minPercent,omitempty"`
}

// FeedbackThresholds are the sensation/satiety cut-offs of the feedback conditions
type FeedbackThresholds struct {
	Sensation float64 `json:"sensationThreshold,omitempty"`
	Satiety   float64 `json:"satietyThreshold,omitempty"`
}

// NegativeFeedbackCondition holds when feedback falls below the thresholds (default 3)
type NegativeFeedbackCondition struct {
	FeedbackThresholds
}

// LowFeedbackCondition is the stricter variant of NegativeFeedbackCondition (default 2)
type LowFeedbackCondition struct {
	FeedbackThresholds
}

// IntakeOutOfRangeCondition holds when any macro deviates from target by more than MarginPercent
type IntakeOutOfRangeCondition struct {
	MarginPercent float64 `json:"marginPercent,omitempty"`
}

// LowComplianceCondition holds when compliance is strictly below MinPercent
type LowComplianceCondition struct {
	MinPercent float64 `json:"minPercent,omitempty"`
}

// ExpressionCondition is a CEL expression over dieta, dia and evento
type ExpressionCondition struct {
	Expression string `json:"expression"`
}

// UnknownCondition keeps a stored condition whose type this build does not know
type UnknownCondition struct {
	Kind   ConditionType
	Params json.RawMessage
}

func (WeekdayCondition) Type() ConditionType          { return ConditionWeekday }
func (DayOffCondition) Type() ConditionType           { return ConditionDayOff }
func (DayTagCondition) Type() ConditionType           { return ConditionDayTag }
func (LowAdherenceCondition) Type() ConditionType     { return ConditionLowAdherence }
func (NegativeFeedbackCondition) Type() ConditionType { return ConditionNegativeFeedback }
func (LowFeedbackCondition) Type() ConditionType      { return ConditionLowFeedback }
func (IntakeOutOfRangeCondition) Type() ConditionType { return ConditionIntakeOutOfRange }
func (LowComplianceCondition) Type() ConditionType    { return ConditionLowCompliance }
func (ExpressionCondition) Type() ConditionType       { return ConditionExpression }
func (c UnknownCondition) Type() ConditionType        { return c.Kind }

func (WeekdayCondition) condition()          {}
func (DayOffCondition) condition()           {}
func (DayTagCondition) condition()           {}
func (LowAdherenceCondition) condition()     {}
func (NegativeFeedbackCondition) condition() {}
func (LowFeedbackCondition) condition()      {}
func (IntakeOutOfRangeCondition) condition() {}
func (LowComplianceCondition) condition()    {}
func (ExpressionCondition) condition()       {}
func (UnknownCondition) condition()          {}

func (c DayOffCondition) tag() string {
	if c.Tag == "" {
		return DefaultDayOffTag
	}
	return c.Tag
}

func (c LowAdherenceCondition) threshold() float64 { return orDefault(c.MinPercent, DefaultMinPercent) }

func (c LowComplianceCondition) threshold() float64 { return orDefault(c.MinPercent, DefaultMinPercent) }

func (c IntakeOutOfRangeCondition) margin() float64 {
	return orDefault(c.MarginPercent, DefaultMarginPercent)
}

func (t FeedbackThresholds) withDefault(def float64) FeedbackThresholds {
	return FeedbackThresholds{
		Sensation: orDefault(t.Sensation, def),
		Satiety:   orDefault(t.Satiety, def),
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

type conditionEnvelope struct {
	Type   ConditionType   `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalCondition encodes c as {"type": ..., "params": {...}}
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	var params []byte
	var err error
	if u, ok := c.(UnknownCondition); ok {
		params = u.Params
	} else {
		params, err = json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", c.Type(), err)
		}
	}
	return json.Marshal(conditionEnvelope{Type: c.Type(), Params: params})
}

// UnmarshalCondition decodes the envelope written by MarshalCondition.
// Unrecognised types decode to UnknownCondition.
func UnmarshalCondition(data []byte) (Condition, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	var c Condition
	var err error
	switch env.Type {
	case ConditionWeekday:
		var v WeekdayCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionDayOff:
		var v DayOffCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionDayTag:
		var v DayTagCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionLowAdherence:
		var v LowAdherenceCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionNegativeFeedback:
		var v NegativeFeedbackCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionLowFeedback:
		var v LowFeedbackCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionIntakeOutOfRange:
		var v IntakeOutOfRangeCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionLowCompliance:
		var v LowComplianceCondition
		err = decodeParams(env.Params, &v)
		c = v
	case ConditionExpression:
		var v ExpressionCondition
		err = decodeParams(env.Params, &v)
		c = v
	case "":
		return nil, fmt.Errorf("decode condition: missing type")
	default:
		c = UnknownCondition{Kind: env.Type, Params: env.Params}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s params: %w", env.Type, err)
	}
	return c, nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
