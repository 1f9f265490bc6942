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

type TaskRepository interface {
	CreateTask(ctx context.Context, task *ModerationTask) error
	GetTask(ctx context.Context, id string) (*ModerationTask, error)
	ClaimTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error)
	ReleaseTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error)
	CompleteTask(ctx context.Context, id, reviewerID string, decision Decision, notes string) (*ModerationTask, error)
	CancelPendingByEntity(ctx context.Context, entityType, entityID string) (int64, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]ModerationTask, int, error)
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]ModerationTask, error)
	CountByStatus(ctx context.Context) (map[TaskStatus]int, error)
}

type FlagRuleRepository interface {
	CreateFlagRule(ctx context.Context, rule *FlagRule) error
	GetFlagRule(ctx context.Context, id string) (*FlagRule, error)
	ListFlagRules(ctx context.Context) ([]FlagRule, error)
	UpdateFlagRule(ctx context.Context, rule *FlagRule) error
	DeleteFlagRule(ctx context.Context, id string) error
	GetActiveFlagRules(ctx context.Context) ([]FlagRule, error)
}

type Repository interface {
	TaskRepository
	FlagRuleRepository
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const taskColumns = `
	id, entity_type, entity_id, task_type, status, priority, auto_score, flags,
	claimed_by, claimed_at, decision, decided_by, decided_at, notes,
	created_at, updated_at`

func (r *PostgresRepository) CreateTask(ctx context.Context, task *ModerationTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
		INSERT INTO moderation_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.EntityType, task.EntityID, task.TaskType, task.Status,
		task.Priority, task.AutoScore, pq.Array(task.Flags),
		nullString(task.ClaimedBy), task.ClaimedAt,
		nullString(string(task.Decision)), nullString(task.DecidedBy), task.DecidedAt,
		nullString(task.Notes), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.ErrConflict.WithCause(err).WithDetail("message",
				fmt.Sprintf("task for %s %s already pending", task.EntityType, task.EntityID))
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTask(ctx context.Context, id string) (*ModerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM moderation_tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("task %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ClaimTask takes the task for one reviewer with a single conditional
// UPDATE. Of N concurrent claims exactly one matches status='PENDING'; the
// rest fall through to claimFailure for a precise error.
func (r *PostgresRepository) ClaimTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error) {
	query := `
		UPDATE moderation_tasks
		SET status = 'CLAIMED', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'PENDING'
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query, reviewerID, time.Now(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.claimFailure(ctx, id, "claim")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

// ReleaseTask reverts a claim, but only for the reviewer who holds it.
func (r *PostgresRepository) ReleaseTask(ctx context.Context, id, reviewerID string) (*ModerationTask, error) {
	query := `
		UPDATE moderation_tasks
		SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, updated_at = $1
		WHERE id = $2 AND status = 'CLAIMED' AND claimed_by = $3
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query, time.Now(), id, reviewerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.claimFailure(ctx, id, "release")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release task: %w", err)
	}
	return task, nil
}

func (r *PostgresRepository) CompleteTask(ctx context.Context, id, reviewerID string, decision Decision, notes string) (*ModerationTask, error) {
	now := time.Now()
	query := `
		UPDATE moderation_tasks
		SET status = 'COMPLETED', decision = $1, decided_by = $2, decided_at = $3,
		    notes = $4, updated_at = $3
		WHERE id = $5 AND status = 'CLAIMED' AND claimed_by = $2
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query,
		string(decision), reviewerID, now, nullString(notes), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.claimFailure(ctx, id, "decide")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	return task, nil
}

func (r *PostgresRepository) CancelPendingByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	query := `
		UPDATE moderation_tasks
		SET status = 'CANCELLED', updated_at = $1
		WHERE entity_type = $2 AND entity_id = $3 AND status = 'PENDING'
	`

	res, err := r.db.ExecContext(ctx, query, time.Now(), entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}
	return res.RowsAffected()
}

// ListTasks pages through the queue in fairness order: highest priority
// first, oldest first within a priority band.
func (r *PostgresRepository) ListTasks(ctx context.Context, filter ListFilter) ([]ModerationTask, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0

	if filter.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.TaskType != "" {
		n++
		where += fmt.Sprintf(" AND task_type = $%d", n)
		args = append(args, filter.TaskType)
	}
	if filter.Priority != "" {
		n++
		where += fmt.Sprintf(" AND priority = $%d", n)
		args = append(args, filter.Priority)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM moderation_tasks " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := `
		SELECT ` + taskColumns + `
		FROM moderation_tasks ` + where + `
		ORDER BY CASE priority WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END DESC,
		         created_at ASC
		LIMIT $` + fmt.Sprint(n+1) + ` OFFSET $` + fmt.Sprint(n+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []ModerationTask
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, 0, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, total, rows.Err()
}

// ReleaseStaleClaims returns every claim older than the cutoff to PENDING
// and reports which tasks were touched.
func (r *PostgresRepository) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]ModerationTask, error) {
	query := `
		UPDATE moderation_tasks
		SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, updated_at = $1
		WHERE status = 'CLAIMED' AND claimed_at < $2
		RETURNING ` + taskColumns

	rows, err := r.db.QueryContext(ctx, query, time.Now(), claimedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to release stale claims: %w", err)
	}
	defer rows.Close()

	var tasks []ModerationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM moderation_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// claimFailure turns a zero-row conditional update into the precise error:
// missing task vs a state that does not admit the operation.
func (r *PostgresRepository) claimFailure(ctx context.Context, id, op string) error {
	task, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	detail := fmt.Sprintf("cannot %s task in status %s", op, task.Status)
	if task.Status == TaskClaimed && task.ClaimedBy != "" {
		detail = fmt.Sprintf("cannot %s task claimed by another reviewer", op)
	}
	return apperrors.ErrInvalidTransition.WithDetail("message", detail)
}

func scanTask(row rowScanner) (*ModerationTask, error) {
	var (
		task      ModerationTask
		claimedBy sql.NullString
		decision  sql.NullString
		decidedBy sql.NullString
		notes     sql.NullString
	)

	err := row.Scan(
		&task.ID, &task.EntityType, &task.EntityID, &task.TaskType, &task.Status,
		&task.Priority, &task.AutoScore, pq.Array(&task.Flags),
		&claimedBy, &task.ClaimedAt, &decision, &decidedBy, &task.DecidedAt,
		&notes, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ClaimedBy = claimedBy.String
	task.Decision = Decision(decision.String)
	task.DecidedBy = decidedBy.String
	task.Notes = notes.String
	return &task, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
