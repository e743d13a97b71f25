package rules

import "errors"

// Caller-contract errors. These are returned to the caller and never written to the ledger.
var (
	ErrRuleNotFound         = errors.New("rule not found")
	ErrDietNotFound         = errors.New("diet not found")
	ErrRuleInactive         = errors.New("rule not active")
	ErrRuleOutOfScope       = errors.New("rule does not apply to this diet")
	ErrConfirmationRequired = errors.New("requires confirmation")
	ErrRuleExists           = errors.New("rule already exists")
	ErrInvalidRule          = errors.New("invalid rule")
	ErrInvalidEvent         = errors.New("invalid event")
)

// Evaluation outcomes. These end up as failed ledger entries.
var (
	ErrConditionNotMet         = errors.New("condition not met")
	ErrConditionNotImplemented = errors.New("condition type not implemented")
	ErrActionNotImplemented    = errors.New("action type not implemented")
)

// IsCallerError reports whether err is a caller-contract error
func IsCallerError(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrDietNotFound) ||
		errors.Is(err, ErrRuleInactive) ||
		errors.Is(err, ErrRuleOutOfScope) ||
		errors.Is(err, ErrConfirmationRequired) ||
		errors.Is(err, ErrInvalidEvent)
}
