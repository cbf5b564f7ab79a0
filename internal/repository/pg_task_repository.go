package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

var _ TaskRepository = (*PgTaskRepository)(nil)

// PgTaskRepository is a PostgreSQL implementation of TaskRepository.
type PgTaskRepository struct {
	db DBTX
}

// NewPgTaskRepository creates a new PostgreSQL task repository.
func NewPgTaskRepository(db DBTX) *PgTaskRepository {
	return &PgTaskRepository{db: db}
}

// Enqueue inserts tasks in one batch, ignoring batch indexes that already exist.
func (r *PgTaskRepository) Enqueue(ctx context.Context, tasks []*domain.AnalysisTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO analysis_tasks (
			id, report_id, batch_index, priority, review_ids,
			status, max_retries, available_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (report_id, batch_index) DO NOTHING
		RETURNING id`

	batch := &pgx.Batch{}
	for _, t := range tasks {
		if t.ID == uuid.Nil || t.ReportID == uuid.Nil {
			return 0, domain.NewValidationError("task", "task and report IDs are required")
		}
		if len(t.ReviewIDs) == 0 {
			return 0, domain.NewValidationError("review_ids", "a task needs at least one review")
		}
		batch.Queue(query,
			t.ID, t.ReportID, t.BatchIndex, t.Priority, t.ReviewIDs,
			t.Status, t.MaxRetries, t.AvailableAt, t.CreatedAt, t.UpdatedAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range tasks {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, pgx.ErrNoRows):
			// batch already enqueued by an earlier run
		default:
			return inserted, fmt.Errorf("failed to enqueue task %d: %w", tasks[i].BatchIndex, err)
		}
	}
	return inserted, nil
}

// leaseExpiredMessage is stored on tasks whose worker never reported back.
const leaseExpiredMessage = "lease expired before the task finished"

// ExpireLeases returns processing tasks with an expired lease to pending, or
// fails them when retry_count reaches max_retries. The backoff mirrors
// domain.RetryBackoff: 60s doubling per prior failure, capped at 300s.
func (r *PgTaskRepository) ExpireLeases(ctx context.Context, now time.Time, limit int) ([]ExpiredTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE analysis_tasks SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			available_at = CASE WHEN retry_count + 1 >= max_retries THEN available_at
				ELSE $1::timestamptz + LEAST(interval '60 seconds' * power(2, retry_count), interval '300 seconds') END,
			completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $1::timestamptz ELSE completed_at END,
			error_message = $3,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM analysis_tasks
			WHERE status = 'processing' AND available_at <= $1
			ORDER BY available_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, report_id, retry_count, status`

	rows, err := r.db.Query(ctx, query, now, limit, leaseExpiredMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to expire task leases: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredTask
	for rows.Next() {
		var (
			e      ExpiredTask
			status domain.TaskStatus
		)
		if err := rows.Scan(&e.ID, &e.ReportID, &e.RetryCount, &status); err != nil {
			return nil, fmt.Errorf("failed to scan expired task: %w", err)
		}
		e.Failed = status == domain.TaskStatusFailed
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired tasks: %w", err)
	}
	return expired, nil
}

// Claim leases pending tasks with FOR UPDATE SKIP LOCKED so concurrent
// dispatchers never receive the same task.
func (r *PgTaskRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.AnalysisTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE analysis_tasks SET
			status = 'processing',
			attempts = attempts + 1,
			available_at = $2,
			started_at = $1,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM analysis_tasks
			WHERE status = 'pending' AND available_at <= $1
			ORDER BY priority DESC, created_at, batch_index
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, report_id, batch_index, priority, review_ids, status,
			retry_count, max_retries, attempts, available_at, error_message,
			started_at, created_at, updated_at`

	rows, err := r.db.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.AnalysisTask
	for rows.Next() {
		var (
			t      domain.AnalysisTask
			errMsg *string
		)
		if err := rows.Scan(
			&t.ID, &t.ReportID, &t.BatchIndex, &t.Priority, &t.ReviewIDs, &t.Status,
			&t.RetryCount, &t.MaxRetries, &t.Attempts, &t.AvailableAt, &errMsg,
			&t.StartedAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed task: %w", err)
		}
		t.ErrorMessage = derefString(errMsg)
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed tasks: %w", err)
	}
	return tasks, nil
}

// Complete stores the result of a claimed task.
func (r *PgTaskRepository) Complete(ctx context.Context, id uuid.UUID, attempts int, result domain.TaskResult, now time.Time) (bool, error) {
	if result == nil {
		result = domain.TaskResult{}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task result: %w", err)
	}

	query := `
		UPDATE analysis_tasks SET
			status = 'completed',
			result = $3,
			error_message = NULL,
			completed_at = $4,
			updated_at = $4
		WHERE id = $1 AND status = 'processing' AND attempts = $2`

	tag, err := r.db.Exec(ctx, query, id, attempts, resultJSON, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reschedule returns a claimed task to pending for a later retry.
func (r *PgTaskRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts, retryCount int, availableAt time.Time, message string) (bool, error) {
	query := `
		UPDATE analysis_tasks SET
			status = 'pending',
			retry_count = $3,
			available_at = $4,
			error_message = $5,
			updated_at = now()
		WHERE id = $1 AND status = 'processing' AND attempts = $2`

	tag, err := r.db.Exec(ctx, query, id, attempts, retryCount, availableAt, nullString(message))
	if err != nil {
		return false, fmt.Errorf("failed to reschedule task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed permanently fails a claimed task.
func (r *PgTaskRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts, retryCount int, message string, now time.Time) (bool, error) {
	query := `
		UPDATE analysis_tasks SET
			status = 'failed',
			retry_count = $3,
			error_message = $4,
			completed_at = $5,
			updated_at = $5
		WHERE id = $1 AND status = 'processing' AND attempts = $2`

	tag, err := r.db.Exec(ctx, query, id, attempts, retryCount, nullString(message), now)
	if err != nil {
		return false, fmt.Errorf("failed to mark task failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Counts returns the task status breakdown of a report.
func (r *PgTaskRepository) Counts(ctx context.Context, reportID uuid.UUID) (domain.TaskCounts, error) {
	query := `
		SELECT status, COUNT(*)
		FROM analysis_tasks
		WHERE report_id = $1
		GROUP BY status`

	var counts domain.TaskCounts
	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return counts, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status domain.TaskStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan task count: %w", err)
		}
		switch status {
		case domain.TaskStatusPending:
			counts.Pending = int(n)
		case domain.TaskStatusProcessing:
			counts.Processing = int(n)
		case domain.TaskStatusCompleted:
			counts.Completed = int(n)
		case domain.TaskStatusFailed:
			counts.Failed = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("error iterating task counts: %w", err)
	}
	return counts, nil
}

// ListCompletedResults returns completed task results in batch order.
func (r *PgTaskRepository) ListCompletedResults(ctx context.Context, reportID uuid.UUID) ([]domain.TaskResult, error) {
	query := `
		SELECT result
		FROM analysis_tasks
		WHERE report_id = $1 AND status = 'completed'
		ORDER BY batch_index`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task results: %w", err)
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		result := domain.TaskResult{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task result: %w", err)
			}
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task results: %w", err)
	}
	return results, nil
}
