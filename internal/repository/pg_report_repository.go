package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

var _ ReportRepository = (*PgReportRepository)(nil)

const reportColumns = `id, user_id, app_name, status, platforms, failure_stage, error_message,
			created_at, updated_at, scraping_started_at, completed_at`

// PgReportRepository is a PostgreSQL implementation of ReportRepository.
type PgReportRepository struct {
	db DBTX
}

// NewPgReportRepository creates a new PostgreSQL report repository.
func NewPgReportRepository(db DBTX) *PgReportRepository {
	return &PgReportRepository{db: db}
}

// Create inserts a new report.
func (r *PgReportRepository) Create(ctx context.Context, report *domain.Report) error {
	if report == nil {
		return domain.NewValidationError("report", "report cannot be nil")
	}
	if report.ID == uuid.Nil {
		return domain.NewValidationError("id", "report ID is required")
	}
	if strings.TrimSpace(report.AppName) == "" {
		return domain.NewValidationError("app_name", "app name is required")
	}
	if len(report.Platforms) == 0 {
		return domain.NewValidationError("platforms", "at least one platform is required")
	}

	query := `
		INSERT INTO reports (
			id, user_id, app_name, status, platforms,
			created_at, updated_at, scraping_started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		report.ID, report.UserID, report.AppName, report.Status, platformStrings(report.Platforms),
		report.CreatedAt, report.UpdatedAt, report.ScrapingStartedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("report", report.ID.String())
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// Get retrieves a report by ID.
func (r *PgReportRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	report, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("report", id.String())
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// List returns reports matching the filter, newest first.
func (r *PgReportRepository) List(ctx context.Context, filter ReportFilter) ([]*domain.Report, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where := sq.And{}
	if filter.UserID != "" {
		where = append(where, sq.Eq{"user_id": filter.UserID})
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		where = append(where, sq.Eq{"status": statuses})
	}
	if filter.AppName != "" {
		where = append(where, sq.ILike{"app_name": "%" + filter.AppName + "%"})
	}
	if filter.CreatedAfter != nil {
		where = append(where, sq.Gt{"created_at": *filter.CreatedAfter})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("reports").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	listQuery, listArgs, err := psql.Select(reportColumns).From("reports").Where(where).
		OrderBy("created_at DESC", "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	reports, err := collectReports(rows)
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

// ListByStatus returns up to limit reports in status, least recently updated first.
func (r *PgReportRepository) ListByStatus(ctx context.Context, status domain.ReportStatus, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE status = $1
		ORDER BY updated_at, id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports by status: %w", err)
	}
	return collectReports(rows)
}

// ListSettledAnalyzing returns analyzing reports with no open task.
func (r *PgReportRepository) ListSettledAnalyzing(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	query := `
		SELECT r.id
		FROM reports r
		WHERE r.status = 'analyzing'
		  AND NOT EXISTS (
			SELECT 1 FROM analysis_tasks t
			WHERE t.report_id = r.id AND t.status IN ('pending', 'processing')
		  )
		ORDER BY r.updated_at, r.id
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled reports: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settled reports: %w", err)
	}
	return ids, nil
}

// TransitionStatus performs a compare-and-swap on the report status.
// Entering scraping stamps scraping_started_at once; entering completed stamps completed_at.
func (r *PgReportRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ReportStatus) (bool, error) {
	query := `
		UPDATE reports SET
			status = $3,
			updated_at = now(),
			scraping_started_at = CASE WHEN $3 = 'scraping' THEN COALESCE(scraping_started_at, now()) ELSE scraping_started_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN now() ELSE completed_at END
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition report %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStaleCompleting re-opens completions whose owner stopped making
// progress. Concurrent callers get disjoint sets through SKIP LOCKED.
func (r *PgReportRepository) ReclaimStaleCompleting(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	query := `
		UPDATE reports SET status = 'analyzing', updated_at = now()
		WHERE id IN (
			SELECT id FROM reports
			WHERE status = 'completing' AND updated_at < $1
			ORDER BY updated_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`

	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale completions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reclaimed reports: %w", err)
	}
	return ids, nil
}

// ForceCompleted sets the report to completed unconditionally.
func (r *PgReportRepository) ForceCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE reports
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to force report completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("report", id.String())
	}
	return nil
}

// Fail moves a non-terminal report to a failure status.
func (r *PgReportRepository) Fail(ctx context.Context, id uuid.UUID, status domain.ReportStatus, stage domain.FailureStage, message string) (bool, error) {
	if status != domain.ReportStatusFailed && status != domain.ReportStatusError {
		return false, domain.NewValidationError("status", "failure status must be failed or error")
	}

	query := `
		UPDATE reports
		SET status = $2, failure_stage = $3, error_message = $4, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'error')`

	tag, err := r.db.Exec(ctx, query, id, status, nullString(string(stage)), nullString(message))
	if err != nil {
		return false, fmt.Errorf("failed to mark report %s: %w", status, err)
	}
	return tag.RowsAffected() == 1, nil
}

type reportScanDest struct {
	report       domain.Report
	platforms    []string
	failureStage *string
	errorMessage *string
}

func (d *reportScanDest) destinations() []interface{} {
	return []interface{}{
		&d.report.ID, &d.report.UserID, &d.report.AppName, &d.report.Status, &d.platforms,
		&d.failureStage, &d.errorMessage,
		&d.report.CreatedAt, &d.report.UpdatedAt, &d.report.ScrapingStartedAt, &d.report.CompletedAt,
	}
}

func (d *reportScanDest) finalize() *domain.Report {
	d.report.Platforms = toPlatforms(d.platforms)
	d.report.FailureStage = domain.FailureStage(derefString(d.failureStage))
	d.report.ErrorMessage = derefString(d.errorMessage)
	return &d.report
}

func scanReport(row pgx.Row) (*domain.Report, error) {
	var dest reportScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}

func collectReports(rows pgx.Rows) ([]*domain.Report, error) {
	defer rows.Close()

	var reports []*domain.Report
	for rows.Next() {
		var dest reportScanDest
		if err := rows.Scan(dest.destinations()...); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, dest.finalize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

func platformStrings(ps []domain.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func toPlatforms(ss []string) []domain.Platform {
	out := make([]domain.Platform, 0, len(ss))
	for _, s := range ss {
		out = append(out, domain.Platform(s))
	}
	return domain.SortPlatforms(out)
}
