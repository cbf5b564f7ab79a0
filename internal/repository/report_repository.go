package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// ReportRepository persists reports and guards their status transitions.
type ReportRepository interface {
	// Create inserts a new report.
	// Returns domain.ErrAlreadyExists if a report with the same ID exists.
	Create(ctx context.Context, report *domain.Report) error

	// Get retrieves a report by ID.
	// Returns domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Report, error)

	// List returns reports matching the filter and the total match count.
	List(ctx context.Context, filter ReportFilter) ([]*domain.Report, int64, error)

	// ListByStatus returns up to limit reports in status, least recently updated first.
	ListByStatus(ctx context.Context, status domain.ReportStatus, limit int) ([]*domain.Report, error)

	// ListSettledAnalyzing returns analyzing reports that have no pending or
	// processing task left, least recently updated first.
	ListSettledAnalyzing(ctx context.Context, limit int) ([]uuid.UUID, error)

	// TransitionStatus moves the report from -> to only if it is currently in
	// from. It returns false when no row matched.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ReportStatus) (bool, error)

	// ReclaimStaleCompleting moves up to limit completing reports last
	// updated before the cutoff back to analyzing, and returns their IDs.
	ReclaimStaleCompleting(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	// ForceCompleted sets the report to completed regardless of its current status.
	ForceCompleted(ctx context.Context, id uuid.UUID) error

	// Fail moves a non-terminal report to status (failed or error) and records
	// the failing stage and message. It returns false when the report was
	// already terminal or does not exist.
	Fail(ctx context.Context, id uuid.UUID, status domain.ReportStatus, stage domain.FailureStage, message string) (bool, error)
}

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	// UserID restricts results to one owner (optional).
	UserID string

	// Status matches any of the given statuses (optional).
	Status []domain.ReportStatus

	// AppName matches case-insensitively on a substring (optional).
	AppName string

	// CreatedAfter filters to reports created after this timestamp (optional).
	CreatedAfter *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks status values and applies pagination defaults.
func (f *ReportFilter) Validate() error {
	for _, s := range f.Status {
		if !s.IsValid() {
			return domain.NewValidationError("status", "unknown report status "+string(s))
		}
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
