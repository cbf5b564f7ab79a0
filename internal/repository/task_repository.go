package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// TaskRepository persists analysis tasks.
//
// A claimed task carries the attempts value it was claimed with. Every write
// after the claim is fenced on (status = processing AND attempts = claimed), so
// a worker whose lease expired and was reclaimed by another worker cannot
// overwrite the newer claim's outcome.
type TaskRepository interface {
	// Enqueue inserts tasks, skipping any (report_id, batch_index) that
	// already exists. Returns the number of rows inserted.
	Enqueue(ctx context.Context, tasks []*domain.AnalysisTask) (int, error)

	// ExpireLeases settles up to limit processing tasks whose lease ran out.
	// Each expiry counts as a failed attempt: the task goes back to pending
	// with retry backoff, or to failed once its retry budget is spent.
	ExpireLeases(ctx context.Context, now time.Time, limit int) ([]ExpiredTask, error)

	// Claim atomically leases up to limit pending tasks whose available_at
	// has passed.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.AnalysisTask, error)

	// Complete stores the result and marks the claimed task completed.
	Complete(ctx context.Context, id uuid.UUID, attempts int, result domain.TaskResult, now time.Time) (bool, error)

	// Reschedule returns the claimed task to pending until availableAt.
	Reschedule(ctx context.Context, id uuid.UUID, attempts, retryCount int, availableAt time.Time, message string) (bool, error)

	// MarkFailed permanently fails the claimed task.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts, retryCount int, message string, now time.Time) (bool, error)

	// Counts returns the task status breakdown of a report.
	Counts(ctx context.Context, reportID uuid.UUID) (domain.TaskCounts, error)

	// ListCompletedResults returns the results of every completed task of a
	// report in batch order.
	ListCompletedResults(ctx context.Context, reportID uuid.UUID) ([]domain.TaskResult, error)
}

// ExpiredTask is a task settled by ExpireLeases.
type ExpiredTask struct {
	ID         uuid.UUID
	ReportID   uuid.UUID
	RetryCount int
	// Failed is true when the expiry exhausted the retry budget.
	Failed bool
}
