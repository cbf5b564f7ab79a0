package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

var _ SessionRepository = (*PgSessionRepository)(nil)

const sessionColumns = `id, report_id, enabled_platforms,
			app_store_scraper_status, google_play_scraper_status, reddit_scraper_status,
			total_reviews, started_at, completed_at, created_at, updated_at`

// platformStatusColumns maps each platform to its scraper status column.
var platformStatusColumns = map[domain.Platform]string{
	domain.PlatformAppStore:   "app_store_scraper_status",
	domain.PlatformGooglePlay: "google_play_scraper_status",
	domain.PlatformReddit:     "reddit_scraper_status",
}

// PgSessionRepository is a PostgreSQL implementation of SessionRepository.
type PgSessionRepository struct {
	db DBTX
}

// NewPgSessionRepository creates a new PostgreSQL session repository.
func NewPgSessionRepository(db DBTX) *PgSessionRepository {
	return &PgSessionRepository{db: db}
}

// FindOrCreateActive upserts against the partial unique index on active sessions.
// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (r *PgSessionRepository) FindOrCreateActive(ctx context.Context, session *domain.ScrapingSession) (*domain.ScrapingSession, bool, error) {
	if session == nil {
		return nil, false, domain.NewValidationError("session", "session cannot be nil")
	}
	if session.ReportID == uuid.Nil {
		return nil, false, domain.NewValidationError("report_id", "report ID is required")
	}

	query := `
		INSERT INTO scraping_sessions (
			id, report_id, enabled_platforms,
			app_store_scraper_status, google_play_scraper_status, reddit_scraper_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (report_id) WHERE completed_at IS NULL
		DO UPDATE SET updated_at = scraping_sessions.updated_at
		RETURNING ` + sessionColumns + `, (xmax = 0) AS inserted`

	var dest sessionScanDest
	var inserted bool
	err := r.db.QueryRow(ctx, query,
		session.ID, session.ReportID, platformStrings(session.EnabledPlatforms),
		session.StatusOf(domain.PlatformAppStore),
		session.StatusOf(domain.PlatformGooglePlay),
		session.StatusOf(domain.PlatformReddit),
		session.CreatedAt, session.UpdatedAt,
	).Scan(append(dest.destinations(), &inserted)...)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return nil, false, domain.NewNotFoundError("report", session.ReportID.String())
		}
		return nil, false, fmt.Errorf("failed to upsert scraping session: %w", err)
	}
	return dest.finalize(), inserted, nil
}

// GetActive returns the report's active session.
func (r *PgSessionRepository) GetActive(ctx context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM scraping_sessions WHERE report_id = $1 AND completed_at IS NULL`

	var dest sessionScanDest
	if err := r.db.QueryRow(ctx, query, reportID).Scan(dest.destinations()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("scraping_session", reportID.String())
		}
		return nil, fmt.Errorf("failed to get active scraping session: %w", err)
	}
	return dest.finalize(), nil
}

// UpdatePlatformStatus sets one scraper status column on the active session.
func (r *PgSessionRepository) UpdatePlatformStatus(ctx context.Context, reportID uuid.UUID, platform domain.Platform, status domain.ScraperStatus) (*domain.ScrapingSession, error) {
	column, ok := platformStatusColumns[platform]
	if !ok {
		return nil, domain.NewValidationError("platform", "unsupported platform "+string(platform))
	}
	if !status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown scraper status "+string(status))
	}

	query := fmt.Sprintf(`
		UPDATE scraping_sessions SET
			%s = $2,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
			updated_at = now()
		WHERE report_id = $1 AND completed_at IS NULL
		RETURNING `+sessionColumns, column)

	var dest sessionScanDest
	if err := r.db.QueryRow(ctx, query, reportID, status).Scan(dest.destinations()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("scraping_session", reportID.String())
		}
		return nil, fmt.Errorf("failed to update %s scraper status: %w", platform, err)
	}
	return dest.finalize(), nil
}

// Complete closes an active session.
func (r *PgSessionRepository) Complete(ctx context.Context, sessionID uuid.UUID, totalReviews int) (bool, error) {
	query := `
		UPDATE scraping_sessions
		SET completed_at = now(), total_reviews = $2, updated_at = now()
		WHERE id = $1 AND completed_at IS NULL`

	tag, err := r.db.Exec(ctx, query, sessionID, totalReviews)
	if err != nil {
		return false, fmt.Errorf("failed to complete scraping session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type sessionScanDest struct {
	session    domain.ScrapingSession
	platforms  []string
	appStore   domain.ScraperStatus
	googlePlay domain.ScraperStatus
	reddit     domain.ScraperStatus
}

func (d *sessionScanDest) destinations() []interface{} {
	return []interface{}{
		&d.session.ID, &d.session.ReportID, &d.platforms,
		&d.appStore, &d.googlePlay, &d.reddit,
		&d.session.TotalReviews, &d.session.StartedAt, &d.session.CompletedAt,
		&d.session.CreatedAt, &d.session.UpdatedAt,
	}
}

func (d *sessionScanDest) finalize() *domain.ScrapingSession {
	d.session.EnabledPlatforms = toPlatforms(d.platforms)
	d.session.Statuses = map[domain.Platform]domain.ScraperStatus{
		domain.PlatformAppStore:   d.appStore,
		domain.PlatformGooglePlay: d.googlePlay,
		domain.PlatformReddit:     d.reddit,
	}
	return &d.session
}
