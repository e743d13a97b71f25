package rules

import (
	"strings"
	"time"
)

// Weekday is a day name as stored on diets and rules ("lunes" ... "domingo")
type Weekday string

const (
	Monday    Weekday = "lunes"
	Tuesday   Weekday = "martes"
	Wednesday Weekday = "miercoles"
	Thursday  Weekday = "jueves"
	Friday    Weekday = "viernes"
	Saturday  Weekday = "sabado"
	Sunday    Weekday = "domingo"
)

// weekdays is indexed by time.Weekday (Sunday = 0)
var weekdays = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// WeekdayOf returns the weekday name for t in t's location
func WeekdayOf(t time.Time) Weekday {
	return weekdays[t.Weekday()]
}

// ParseWeekday normalises a day name, accepting the accented spellings
// the UI sometimes sends ("miércoles", "sábado").
func ParseWeekday(s string) (Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("é", "e", "á", "a").Replace(s)
	for _, d := range weekdays {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// Frequency is the trigger modality of a rule
type Frequency string

const (
	FrequencyOnDemand  Frequency = "bajo-demanda"
	FrequencyDaily     Frequency = "diaria"
	FrequencyWeekly    Frequency = "semanal"
	FrequencyRecurring Frequency = "recurrente"
)

// RecurrenceType selects how a RecurrencePattern matches a date
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "diaria"
	RecurrenceWeekly  RecurrenceType = "semanal"
	RecurrenceMonthly RecurrenceType = "mensual"
)

// RecurrencePattern describes when a recurring rule is due
type RecurrencePattern struct {
	Type       RecurrenceType `json:"type" yaml:"type"`
	Days       []Weekday      `json:"days,omitempty" yaml:"days,omitempty"`
	DayOfMonth int            `json:"dayOfMonth,omitempty" yaml:"dayOfMonth,omitempty"`
}

// Matches reports whether the pattern is due on t
func (p RecurrencePattern) Matches(t time.Time) bool {
	switch p.Type {
	case RecurrenceDaily:
		return true
	case RecurrenceWeekly:
		return containsWeekday(p.Days, WeekdayOf(t))
	case RecurrenceMonthly:
		return p.DayOfMonth == t.Day()
	default:
		return false
	}
}

// Rule is a coach-owned condition/action pair with scope and trigger settings
type Rule struct {
	ID                   string
	CoachID              string
	Name                 string
	Description          string
	Active               bool
	Condition            Condition
	Action               Action
	Frequency            Frequency
	Recurrence           *RecurrencePattern
	ApplyToAll           bool
	DietIDs              []string
	RequiresConfirmation bool
	NotifyCoach          bool
	TimesExecuted        int
	LastExecutedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Targets reports whether dietID is inside the rule's explicit scope.
// Rules with ApplyToAll are resolved against diet ownership by the engine.
func (r *Rule) Targets(dietID string) bool {
	for _, id := range r.DietIDs {
		if id == dietID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with r
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	c := *r
	c.DietIDs = append([]string(nil), r.DietIDs...)
	if r.Recurrence != nil {
		p := *r.Recurrence
		p.Days = append([]Weekday(nil), r.Recurrence.Days...)
		c.Recurrence = &p
	}
	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		c.LastExecutedAt = &t
	}
	return &c
}

// RulePatch carries the fields of a partial rule update; nil fields are left untouched
type RulePatch struct {
	Name                 *string
	Description          *string
	Active               *bool
	Condition            Condition
	Action               Action
	Frequency            *Frequency
	Recurrence           *RecurrencePattern
	ApplyToAll           *bool
	DietIDs              *[]string
	RequiresConfirmation *bool
	NotifyCoach          *bool
}

// Apply merges the patch into r
func (p RulePatch) Apply(r *Rule) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Condition != nil {
		r.Condition = p.Condition
	}
	if p.Action != nil {
		r.Action = p.Action
	}
	if p.Frequency != nil {
		r.Frequency = *p.Frequency
	}
	if p.Recurrence != nil {
		rec := *p.Recurrence
		r.Recurrence = &rec
	}
	if p.ApplyToAll != nil {
		r.ApplyToAll = *p.ApplyToAll
	}
	if p.DietIDs != nil {
		r.DietIDs = append([]string(nil), (*p.DietIDs)...)
	}
	if p.RequiresConfirmation != nil {
		r.RequiresConfirmation = *p.RequiresConfirmation
	}
	if p.NotifyCoach != nil {
		r.NotifyCoach = *p.NotifyCoach
	}
}

// ExecutionStatus separates the outcomes a coach sees in the history view
type ExecutionStatus string

const (
	StatusApplied         ExecutionStatus = "applied"
	StatusConditionNotMet ExecutionStatus = "condition_not_met"
	StatusFailed          ExecutionStatus = "failed"
)

// Trigger records what started an execution
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerRecurring Trigger = "recurring"
	TriggerEvent     Trigger = "event"
)

// Result summarises the changes an action applied
type Result struct {
	ChangesApplied int      `json:"changesApplied"`
	Details        []string `json:"details"`
}

// Execution is one ledger entry: a single evaluation attempt of a rule against a diet
type Execution struct {
	ID         string          `json:"id"`
	RuleID     string          `json:"ruleId"`
	DietID     string          `json:"dietId"`
	ExecutedAt time.Time       `json:"executedAt"`
	Success    bool            `json:"success"`
	Status     ExecutionStatus `json:"status"`
	Trigger    Trigger         `json:"trigger"`
	Result     *Result         `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Confirmed  bool            `json:"confirmed"`
}

// PendingConfirmation records an event match that was held back for coach approval
type PendingConfirmation struct {
	ID         string        `json:"id"`
	RuleID     string        `json:"ruleId"`
	DietID     string        `json:"dietId"`
	EventType  ConditionType `json:"eventType"`
	DetectedAt time.Time     `json:"detectedAt"`

	// ResolvedAt and ExecutionID are set once the coach approves the rule for the diet
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	ExecutionID string     `json:"executionId,omitempty"`
}

// EventContext is the ephemeral data attached to a single evaluation. It is never stored.
type EventContext struct {
	Feedback     *Feedback `json:"feedback,omitempty"`
	IntakeMacros *Macros   `json:"intakeMacros,omitempty"`
	Compliance   *float64  `json:"compliance,omitempty"`
}

// Event is a business event raised by the feedback, intake or compliance subsystems
type Event struct {
	Type         ConditionType `json:"type"`
	DietID       string        `json:"dietId"`
	Feedback     *Feedback     `json:"feedback,omitempty"`
	IntakeMacros *Macros       `json:"intakeMacros,omitempty"`
	Compliance   *float64      `json:"compliance,omitempty"`
}

// Context extracts the evaluation context carried by the event
func (e Event) Context() *EventContext {
	return &EventContext{
		Feedback:     e.Feedback,
		IntakeMacros: e.IntakeMacros,
		Compliance:   e.Compliance,
	}
}

// DispatchResult is what an event dispatch produced
type DispatchResult struct {
	Executions []*Execution           `json:"executions"`
	Pending    []*PendingConfirmation `json:"pending"`
}

func containsWeekday(days []Weekday, d Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
