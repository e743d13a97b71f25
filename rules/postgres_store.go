package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Condition, action and recurrence are stored as JSONB.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, coach_id, name, description, active, condition, action, frequency,
	recurrence, apply_to_all, diet_ids, requires_confirmation, notify_coach,
	times_executed, last_executed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r          Rule
		cond, act  []byte
		recurrence []byte
		dietIDs    pq.StringArray
		lastExec   sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.CoachID, &r.Name, &r.Description, &r.Active, &cond, &act,
		&r.Frequency, &recurrence, &r.ApplyToAll, &dietIDs, &r.RequiresConfirmation,
		&r.NotifyCoach, &r.TimesExecuted, &lastExec, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.Condition, err = UnmarshalCondition(cond); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Action, err = UnmarshalAction(act); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if len(recurrence) > 0 {
		var p RecurrencePattern
		if err := json.Unmarshal(recurrence, &p); err != nil {
			return nil, fmt.Errorf("rule %s: decode recurrence: %w", r.ID, err)
		}
		r.Recurrence = &p
	}
	r.DietIDs = []string(dietIDs)
	if lastExec.Valid {
		t := lastExec.Time
		r.LastExecutedAt = &t
	}
	return &r, nil
}

// encodeRule returns the JSONB payloads of r as strings so lib/pq sends them as text
func encodeRule(r *Rule) (cond, act string, recurrence sql.NullString, err error) {
	c, err := MarshalCondition(r.Condition)
	if err != nil {
		return "", "", recurrence, err
	}
	a, err := MarshalAction(r.Action)
	if err != nil {
		return "", "", recurrence, err
	}
	if r.Recurrence != nil {
		p, err := json.Marshal(r.Recurrence)
		if err != nil {
			return "", "", recurrence, fmt.Errorf("encode recurrence: %w", err)
		}
		recurrence = sql.NullString{String: string(p), Valid: true}
	}
	return string(c), string(a), recurrence, nil
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	cond, act, recurrence, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.TimesExecuted = 0
	rule.LastExecutedAt = nil

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, NULL, $14, $15)
	`, rule.ID, rule.CoachID, rule.Name, rule.Description, rule.Active, cond, act,
		rule.Frequency, recurrence, rule.ApplyToAll, pq.Array(rule.DietIDs),
		rule.RequiresConfirmation, rule.NotifyCoach, rule.CreatedAt, rule.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// ListByCoach returns the coach's rules, oldest first
func (s *PostgresRuleStore) ListByCoach(ctx context.Context, coachID string) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE coach_id = $1
		ORDER BY created_at ASC, id ASC
	`, coachID)
}

// ListActive returns all active rules, oldest first
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE active = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleStore) query(ctx context.Context, q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []*Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule. Counters and CreatedAt are left as stored.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	cond, act, recurrence, err := encodeRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, description = $2, active = $3, condition = $4, action = $5,
			frequency = $6, recurrence = $7, apply_to_all = $8, diet_ids = $9,
			requires_confirmation = $10, notify_coach = $11, updated_at = $12
		WHERE id = $13
	`, rule.Name, rule.Description, rule.Active, cond, act, rule.Frequency, recurrence,
		rule.ApplyToAll, pq.Array(rule.DietIDs), rule.RequiresConfirmation, rule.NotifyCoach,
		rule.UpdatedAt, rule.ID)

	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return expectOneRow(result, rule.ID)
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rules
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return expectOneRow(result, id)
}

// MarkExecuted increments the counter in a single statement
func (s *PostgresRuleStore) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET times_executed = times_executed + 1, last_executed_at = $1
		WHERE id = $2
	`, at, id)

	if err != nil {
		return fmt.Errorf("failed to mark rule executed: %w", err)
	}

	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}
