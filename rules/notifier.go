package rules

import (
	"context"
	"time"
)

// NotificationKind says why the coach is being notified
type NotificationKind string

const (
	NotificationRuleExecuted         NotificationKind = "rule_executed"
	NotificationConfirmationRequired NotificationKind = "confirmation_required"
)

// Notification is raised by the event dispatcher for the owning coach
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	CoachID     string           `json:"coachId"`
	RuleID      string           `json:"ruleId"`
	RuleName    string           `json:"ruleName"`
	DietID      string           `json:"dietId"`
	EventType   ConditionType    `json:"eventType"`
	ExecutionID string           `json:"executionId,omitempty"`
	PendingID   string           `json:"pendingId,omitempty"`
	Details     []string         `json:"details,omitempty"`
	At          time.Time        `json:"at"`
}

// Notifier delivers coach notifications. Delivery failures are logged by the
// engine and never fail the dispatch.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
