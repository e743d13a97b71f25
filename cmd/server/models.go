package main

import "github.com/liamcoop/dietrules/rules"

// API request and response models. Rules, events and executions use the
// wire shapes defined in the rules package.

// ExecuteRuleRequest represents the request body for running a rule against a diet
type ExecuteRuleRequest struct {
	DietID    string              `json:"dietId"`
	Day       string              `json:"day,omitempty"`
	Confirmed bool                `json:"confirmed,omitempty"`
	Event     *rules.EventContext `json:"event,omitempty"`
}

// RulesListResponse represents the response for listing a coach's rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// HistoryResponse lists a rule's executions, most recent first
type HistoryResponse struct {
	Executions []*rules.Execution `json:"executions"`
}

// PendingResponse lists event matches waiting for coach approval
type PendingResponse struct {
	Pending []*rules.PendingConfirmation `json:"pending"`
}

// SweepResponse represents the result of a recurring sweep
type SweepResponse struct {
	Executions []*rules.Execution `json:"executions"`
	Count      int                `json:"count"`
	Duration   string             `json:"duration"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Counters map[string]int64 `json:"counters,omitempty"`
	Error    string           `json:"error,omitempty"`
}
