package rules

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/dietrules/internal/telemetry"
)

// RunRecurring runs every active recurring rule whose pattern is due today
// against every diet in its scope, with confirmation granted and today's
// weekday as the day.
//
// Diets are processed in parallel, bounded by the worker limit; the rules of
// one diet run in order so they never race on the same diet. A failing diet
// is logged and skipped. The returned records are in no particular order.
func (e *Engine) RunRecurring(ctx context.Context) ([]*Execution, error) {
	start := e.now()
	today := WeekdayOf(start)

	active, err := e.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	var due []*Rule
	for _, r := range active {
		if r.Frequency == FrequencyRecurring && r.Recurrence != nil && r.Recurrence.Matches(start) {
			due = append(due, r)
		}
	}

	// diet id -> rules due for it, in rule order
	plan := make(map[string][]*Rule)
	var order []string
	for _, r := range due {
		dietIDs, err := e.resolveDiets(ctx, r)
		if err != nil {
			e.logger.Error("failed to resolve rule diets", "rule_id", r.ID, "error", err)
			telemetry.RecordBatchError("sweep")
			continue
		}
		for _, id := range dietIDs {
			if _, seen := plan[id]; !seen {
				order = append(order, id)
			}
			plan[id] = append(plan[id], r)
		}
	}

	var (
		mu      sync.Mutex
		records = []*Execution{}
		g       errgroup.Group
	)
	g.SetLimit(e.workers)

	for _, dietID := range order {
		dueRules := plan[dietID]
		g.Go(func() error {
			for _, r := range dueRules {
				exec, err := e.ExecuteRule(ctx, r.ID, dietID, ExecuteOptions{
					Day:       today,
					Confirmed: true,
					Trigger:   TriggerRecurring,
				})
				if err != nil {
					e.logger.Error("recurring rule failed", "rule_id", r.ID, "diet_id", dietID, "error", err)
					telemetry.RecordBatchError("sweep")
					continue
				}
				mu.Lock()
				records = append(records, exec)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	telemetry.ObserveSweep(elapsed)
	e.logger.Info("recurring sweep finished",
		"day", today, "due_rules", len(due), "diets", len(order), "executions", len(records))

	return records, nil
}

// resolveDiets returns the ids of the diets a rule targets. Explicit ids that
// no longer resolve are skipped.
func (e *Engine) resolveDiets(ctx context.Context, r *Rule) ([]string, error) {
	if r.ApplyToAll {
		diets, err := e.diets.ListDiets(ctx, r.CoachID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(diets))
		for _, d := range diets {
			if inScope(r, d) {
				ids = append(ids, d.ID)
			}
		}
		return ids, nil
	}

	ids := make([]string, 0, len(r.DietIDs))
	for _, id := range r.DietIDs {
		if _, err := e.diets.GetDiet(ctx, id); err != nil {
			if errors.Is(err, ErrDietNotFound) {
				e.logger.Debug("skipping missing diet", "rule_id", r.ID, "diet_id", id)
			} else {
				e.logger.Error("failed to load diet", "rule_id", r.ID, "diet_id", id, "error", err)
				telemetry.RecordBatchError("sweep")
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
