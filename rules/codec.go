package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// ruleJSON is the wire shape of a Rule
type ruleJSON struct {
	ID                   string             `json:"id"`
	CoachID              string             `json:"coachId"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	Active               bool               `json:"active"`
	Condition            json.RawMessage    `json:"condition"`
	Action               json.RawMessage    `json:"action"`
	Frequency            Frequency          `json:"frequency"`
	Recurrence           *RecurrencePattern `json:"recurrence,omitempty"`
	ApplyToAll           bool               `json:"applyToAll"`
	DietIDs              []string           `json:"dietIds"`
	RequiresConfirmation bool               `json:"requiresConfirmation"`
	NotifyCoach          bool               `json:"notifyCoach"`
	TimesExecuted        int                `json:"timesExecuted"`
	LastExecutedAt       *time.Time         `json:"lastExecutedAt,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// MarshalJSON encodes the condition and action as tagged envelopes
func (r Rule) MarshalJSON() ([]byte, error) {
	cond, err := MarshalCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	act, err := MarshalAction(r.Action)
	if err != nil {
		return nil, err
	}
	dietIDs := r.DietIDs
	if dietIDs == nil {
		dietIDs = []string{}
	}
	return json.Marshal(ruleJSON{
		ID:                   r.ID,
		CoachID:              r.CoachID,
		Name:                 r.Name,
		Description:          r.Description,
		Active:               r.Active,
		Condition:            cond,
		Action:               act,
		Frequency:            r.Frequency,
		Recurrence:           r.Recurrence,
		ApplyToAll:           r.ApplyToAll,
		DietIDs:              dietIDs,
		RequiresConfirmation: r.RequiresConfirmation,
		NotifyCoach:          r.NotifyCoach,
		TimesExecuted:        r.TimesExecuted,
		LastExecutedAt:       r.LastExecutedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := UnmarshalCondition(raw.Condition)
	if err != nil {
		return err
	}
	act, err := UnmarshalAction(raw.Action)
	if err != nil {
		return err
	}
	*r = Rule{
		ID:                   raw.ID,
		CoachID:              raw.CoachID,
		Name:                 raw.Name,
		Description:          raw.Description,
		Active:               raw.Active,
		Condition:            cond,
		Action:               act,
		Frequency:            raw.Frequency,
		Recurrence:           raw.Recurrence,
		ApplyToAll:           raw.ApplyToAll,
		DietIDs:              raw.DietIDs,
		RequiresConfirmation: raw.RequiresConfirmation,
		NotifyCoach:          raw.NotifyCoach,
		TimesExecuted:        raw.TimesExecuted,
		LastExecutedAt:       raw.LastExecutedAt,
		CreatedAt:            raw.CreatedAt,
		UpdatedAt:            raw.UpdatedAt,
	}
	return nil
}

// rulePatchJSON is the wire shape of a RulePatch
type rulePatchJSON struct {
	Name                 *string            `json:"name"`
	Description          *string            `json:"description"`
	Active               *bool              `json:"active"`
	Condition            json.RawMessage    `json:"condition"`
	Action               json.RawMessage    `json:"action"`
	Frequency            *Frequency         `json:"frequency"`
	Recurrence           *RecurrencePattern `json:"recurrence"`
	ApplyToAll           *bool              `json:"applyToAll"`
	DietIDs              *[]string          `json:"dietIds"`
	RequiresConfirmation *bool              `json:"requiresConfirmation"`
	NotifyCoach          *bool              `json:"notifyCoach"`
}

// UnmarshalJSON decodes a partial rule; absent fields stay nil
func (p *RulePatch) UnmarshalJSON(data []byte) error {
	var raw rulePatchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := UnmarshalCondition(raw.Condition)
	if err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	act, err := UnmarshalAction(raw.Action)
	if err != nil {
		return fmt.Errorf("action: %w", err)
	}
	*p = RulePatch{
		Name:                 raw.Name,
		Description:          raw.Description,
		Active:               raw.Active,
		Condition:            cond,
		Action:               act,
		Frequency:            raw.Frequency,
		Recurrence:           raw.Recurrence,
		ApplyToAll:           raw.ApplyToAll,
		DietIDs:              raw.DietIDs,
		RequiresConfirmation: raw.RequiresConfirmation,
		NotifyCoach:          raw.NotifyCoach,
	}
	return nil
}
