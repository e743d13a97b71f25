package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresLedger implements Ledger on the rule_executions and
// pending_confirmations tables. Executions are never updated or deleted;
// a pending confirmation is only updated once, when it is resolved.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgreSQL-backed Ledger
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Append inserts one execution record
func (l *PostgresLedger) Append(ctx context.Context, exec *Execution) error {
	var result sql.NullString
	if exec.Result != nil {
		data, err := json.Marshal(exec.Result)
		if err != nil {
			return fmt.Errorf("failed to encode execution result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rule_executions (id, rule_id, diet_id, executed_at, success, status, trigger, result, error, confirmed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, exec.ID, exec.RuleID, exec.DietID, exec.ExecutedAt, exec.Success, exec.Status,
		exec.Trigger, result, exec.Error, exec.Confirmed)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// History returns the rule's executions, most recent first
func (l *PostgresLedger) History(ctx context.Context, ruleID string) ([]*Execution, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, rule_id, diet_id, executed_at, success, status, trigger, result, error, confirmed
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY executed_at DESC, seq DESC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	history := []*Execution{}
	for rows.Next() {
		var (
			e      Execution
			result []byte
		)
		if err := rows.Scan(&e.ID, &e.RuleID, &e.DietID, &e.ExecutedAt, &e.Success, &e.Status,
			&e.Trigger, &result, &e.Error, &e.Confirmed); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if len(result) > 0 {
			e.Result = &Result{}
			if err := json.Unmarshal(result, e.Result); err != nil {
				return nil, fmt.Errorf("execution %s: decode result: %w", e.ID, err)
			}
		}
		history = append(history, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return history, nil
}

// AppendPending inserts one pending confirmation
func (l *PostgresLedger) AppendPending(ctx context.Context, p *PendingConfirmation) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pending_confirmations (id, rule_id, diet_id, event_type, detected_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.RuleID, p.DietID, p.EventType, p.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pending confirmation: %w", err)
	}
	return nil
}

// Pending returns the rule's unresolved confirmations, most recent first
func (l *PostgresLedger) Pending(ctx context.Context, ruleID string) ([]*PendingConfirmation, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, rule_id, diet_id, event_type, detected_at
		FROM pending_confirmations
		WHERE rule_id = $1 AND resolved_at IS NULL
		ORDER BY detected_at DESC, seq DESC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending confirmations: %w", err)
	}
	defer rows.Close()

	pending := []*PendingConfirmation{}
	for rows.Next() {
		var p PendingConfirmation
		if err := rows.Scan(&p.ID, &p.RuleID, &p.DietID, &p.EventType, &p.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending confirmation: %w", err)
		}
		pending = append(pending, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending confirmations: %w", err)
	}
	return pending, nil
}

// ResolvePending stamps the open confirmations of the rule and diet
func (l *PostgresLedger) ResolvePending(ctx context.Context, ruleID, dietID, executionID string, at time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE pending_confirmations
		SET resolved_at = $4, execution_id = $3
		WHERE rule_id = $1 AND diet_id = $2 AND resolved_at IS NULL
	`, ruleID, dietID, executionID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pending confirmations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pending confirmations: %w", err)
	}
	return int(n), nil
}
