package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "propstack/pkg/errors"
)

func (r *PostgresRepository) CreateFlagRule(ctx context.Context, rule *FlagRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO flag_rules (id, name, expression, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Expression,
		rule.Priority, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.ErrConflict.WithCause(err).WithDetail("message",
				fmt.Sprintf("rule with name '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create flag rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetFlagRule(ctx context.Context, id string) (*FlagRule, error) {
	query := `
		SELECT id, name, expression, priority, enabled, created_at, updated_at
		FROM flag_rules
		WHERE id = $1
	`

	var rule FlagRule
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.Name, &rule.Expression,
		&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("flag rule %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flag rule: %w", err)
	}
	return &rule, nil
}

func (r *PostgresRepository) ListFlagRules(ctx context.Context) ([]FlagRule, error) {
	return r.queryFlagRules(ctx, `
		SELECT id, name, expression, priority, enabled, created_at, updated_at
		FROM flag_rules
		ORDER BY priority DESC, created_at ASC
	`)
}

func (r *PostgresRepository) GetActiveFlagRules(ctx context.Context) ([]FlagRule, error) {
	return r.queryFlagRules(ctx, `
		SELECT id, name, expression, priority, enabled, created_at, updated_at
		FROM flag_rules
		WHERE enabled = true
		ORDER BY priority DESC, created_at ASC
	`)
}

func (r *PostgresRepository) queryFlagRules(ctx context.Context, query string) ([]FlagRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flag rules: %w", err)
	}
	defer rows.Close()

	var rules []FlagRule
	for rows.Next() {
		var rule FlagRule
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Expression,
			&rule.Priority, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flag rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PostgresRepository) UpdateFlagRule(ctx context.Context, rule *FlagRule) error {
	rule.UpdatedAt = time.Now()

	query := `
		UPDATE flag_rules
		SET name = $1, expression = $2, priority = $3, enabled = $4, updated_at = $5
		WHERE id = $6
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Expression, rule.Priority, rule.Enabled, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update flag rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("flag rule %s not found", rule.ID))
	}
	return nil
}

func (r *PostgresRepository) DeleteFlagRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM flag_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flag rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("flag rule %s not found", id))
	}
	return nil
}
