package diets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liamcoop/dietrules/rules"
)

// NewPool creates a connection pool for the diet tables
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	return pool, nil
}

// PostgresStore implements rules.DietStore and rules.FeedbackSource over the
// diets and feedback tables. Meals, macros and day metadata are JSONB columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const dietColumns = `id, client_id, coach_id, meals, macros, adherence, days`

func scanDiet(row pgx.Row) (*rules.Diet, error) {
	var d rules.Diet
	if err := row.Scan(&d.ID, &d.ClientID, &d.CoachID, &d.Meals, &d.Macros, &d.Adherence, &d.Days); err != nil {
		return nil, err
	}
	if d.Meals == nil {
		d.Meals = []rules.Meal{}
	}
	return &d, nil
}

// GetDiet loads one diet
func (s *PostgresStore) GetDiet(ctx context.Context, id string) (*rules.Diet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dietColumns+` FROM diets WHERE id = $1`, id)
	d, err := scanDiet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rules.ErrDietNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diet %s: %w", id, err)
	}
	return d, nil
}

// ListDiets returns the coach's diets and the unowned ones, ordered by id
func (s *PostgresStore) ListDiets(ctx context.Context, coachID string) ([]*rules.Diet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+dietColumns+` FROM diets WHERE coach_id IN ($1, '') ORDER BY id`, coachID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diets: %w", err)
	}
	defer rows.Close()

	out := []*rules.Diet{}
	for rows.Next() {
		d, err := scanDiet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diet: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDiet replaces the fields set in patch with a single UPDATE statement
func (s *PostgresStore) UpdateDiet(ctx context.Context, id string, patch rules.DietPatch) (*rules.Diet, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE diets
		SET meals = COALESCE($2, meals),
		    macros = COALESCE($3, macros),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+dietColumns,
		id, patch.Meals, patch.Macros)
	d, err := scanDiet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rules.ErrDietNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update diet %s: %w", id, err)
	}
	return d, nil
}

// SaveDiet inserts or replaces a diet
func (s *PostgresStore) SaveDiet(ctx context.Context, d *rules.Diet) error {
	meals := d.Meals
	if meals == nil {
		meals = []rules.Meal{}
	}
	days := d.Days
	if days == nil {
		days = map[rules.Weekday]rules.DayInfo{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO diets (id, client_id, coach_id, meals, macros, adherence, days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET client_id = EXCLUDED.client_id,
		    coach_id = EXCLUDED.coach_id,
		    meals = EXCLUDED.meals,
		    macros = EXCLUDED.macros,
		    adherence = EXCLUDED.adherence,
		    days = EXCLUDED.days,
		    updated_at = now()`,
		d.ID, d.ClientID, d.CoachID, meals, d.Macros, d.Adherence, days)
	if err != nil {
		return fmt.Errorf("failed to save diet %s: %w", d.ID, err)
	}
	return nil
}

// AddFeedback records a feedback entry. A zero RecordedAt is set by the database.
func (s *PostgresStore) AddFeedback(ctx context.Context, f rules.Feedback) error {
	var recordedAt *time.Time
	if !f.RecordedAt.IsZero() {
		recordedAt = &f.RecordedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (id, diet_id, client_id, meal_id, sensation, satiety, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))`,
		f.ID, f.DietID, f.ClientID, f.MealID, f.Sensation, f.Satiety, recordedAt)
	if err != nil {
		return fmt.Errorf("failed to add feedback: %w", err)
	}
	return nil
}

// ClientFeedback returns the client's feedback for the diet, oldest first
func (s *PostgresStore) ClientFeedback(ctx context.Context, dietID, clientID string) ([]rules.Feedback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, diet_id, client_id, meal_id, sensation, satiety, recorded_at
		FROM feedback
		WHERE diet_id = $1 AND client_id = $2
		ORDER BY recorded_at`, dietID, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rules.Feedback, error) {
		var f rules.Feedback
		err := row.Scan(&f.ID, &f.DietID, &f.ClientID, &f.MealID, &f.Sensation, &f.Satiety, &f.RecordedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan feedback: %w", err)
	}
	return out, nil
}
