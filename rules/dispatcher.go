package rules

import (
	"context"
	"fmt"

	"github.com/liamcoop/dietrules/internal/telemetry"
)

// DispatchEvent runs the active rules whose condition type matches the event
// and whose scope includes the event's diet.
//
// Candidates whose condition does not hold are skipped without a ledger entry.
// Matching rules that require confirmation are never executed here: a pending
// confirmation is recorded and the coach notified instead. The others run
// through the runner with confirmation granted and the event context; their
// condition is not evaluated a second time.
// Candidates run in order, one at a time, since they all touch the same diet.
func (e *Engine) DispatchEvent(ctx context.Context, ev Event) (*DispatchResult, error) {
	if !ev.Type.IsEventClass() {
		return nil, fmt.Errorf("%w: type %q is not an event condition", ErrInvalidEvent, ev.Type)
	}
	if ev.DietID == "" {
		return nil, fmt.Errorf("%w: missing diet id", ErrInvalidEvent)
	}
	telemetry.RecordDispatch(string(ev.Type))

	diet, err := e.diets.GetDiet(ctx, ev.DietID)
	if err != nil {
		return nil, err
	}

	active, err := e.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	ectx := ev.Context()
	day := WeekdayOf(e.now())
	result := &DispatchResult{
		Executions: []*Execution{},
		Pending:    []*PendingConfirmation{},
	}

	for _, rule := range active {
		if rule.Condition == nil || rule.Condition.Type() != ev.Type || !inScope(rule, diet) {
			continue
		}
		log := e.logger.With("rule_id", rule.ID, "diet_id", diet.ID, "event_type", ev.Type)

		held, err := e.evaluator.Evaluate(ctx, rule.Condition, diet, day, ectx)
		if err != nil {
			log.Warn("event condition evaluation failed", "error", err)
			telemetry.RecordBatchError("dispatch")
			continue
		}
		if !held {
			continue
		}

		if rule.RequiresConfirmation {
			p := &PendingConfirmation{
				ID:         e.newID(),
				RuleID:     rule.ID,
				DietID:     diet.ID,
				EventType:  ev.Type,
				DetectedAt: e.now().UTC(),
			}
			if err := e.ledger.AppendPending(ctx, p); err != nil {
				log.Error("failed to record pending confirmation", "error", err)
				telemetry.RecordBatchError("dispatch")
				continue
			}
			telemetry.RecordPending(string(ev.Type))
			log.Info("rule requires confirmation", "pending_id", p.ID)

			e.notify(ctx, Notification{
				Kind:      NotificationConfirmationRequired,
				CoachID:   rule.CoachID,
				RuleID:    rule.ID,
				RuleName:  rule.Name,
				DietID:    diet.ID,
				EventType: ev.Type,
				PendingID: p.ID,
				At:        p.DetectedAt,
			})
			result.Pending = append(result.Pending, p)
			continue
		}

		opts := ExecuteOptions{
			Day:       day,
			Confirmed: true,
			Event:     ectx,
			Trigger:   TriggerEvent,
		}
		fresh, current, err := e.admit(ctx, rule.ID, diet.ID, opts)
		if err != nil {
			log.Error("event rule failed", "error", err)
			telemetry.RecordBatchError("dispatch")
			continue
		}
		exec, err := e.run(ctx, fresh, current, opts, true)
		if err != nil {
			log.Error("event rule failed", "error", err)
			telemetry.RecordBatchError("dispatch")
			continue
		}
		result.Executions = append(result.Executions, exec)

		if rule.NotifyCoach && exec.Success {
			e.notify(ctx, Notification{
				Kind:        NotificationRuleExecuted,
				CoachID:     rule.CoachID,
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				DietID:      diet.ID,
				EventType:   ev.Type,
				ExecutionID: exec.ID,
				Details:     exec.Result.Details,
				At:          exec.ExecutedAt,
			})
		}
	}

	e.logger.Info("event dispatched", "event_type", ev.Type, "diet_id", ev.DietID,
		"executions", len(result.Executions), "pending", len(result.Pending))
	return result, nil
}

// notify delivers n, logging instead of failing
func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil {
		e.logger.Info("coach notification", "kind", n.Kind, "coach_id", n.CoachID, "rule_id", n.RuleID, "diet_id", n.DietID)
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		telemetry.RecordNotifyError()
		e.logger.Warn("failed to notify coach", "kind", n.Kind, "rule_id", n.RuleID, "error", err)
	}
}
