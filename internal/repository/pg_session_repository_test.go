package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

var sessionRowColumns = []string{
	"id", "report_id", "enabled_platforms",
	"app_store_scraper_status", "google_play_scraper_status", "reddit_scraper_status",
	"total_reviews", "started_at", "completed_at", "created_at", "updated_at",
}

func sessionRow(s *domain.ScrapingSession) []interface{} {
	return []interface{}{
		s.ID, s.ReportID, platformStrings(s.EnabledPlatforms),
		s.StatusOf(domain.PlatformAppStore), s.StatusOf(domain.PlatformGooglePlay), s.StatusOf(domain.PlatformReddit),
		s.TotalReviews, s.StartedAt, s.CompletedAt, s.CreatedAt, s.UpdatedAt,
	}
}

func TestPgSessionRepository_FindOrCreateActive(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		session := domain.NewScrapingSession(uuid.New(), []domain.Platform{domain.PlatformAppStore})

		mock.ExpectQuery(`ON CONFLICT \(report_id\) WHERE completed_at IS NULL`).
			WithArgs(session.ID, session.ReportID, []string{"app_store"},
				domain.ScraperStatusPending, domain.ScraperStatusDisabled, domain.ScraperStatusDisabled,
				session.CreatedAt, session.UpdatedAt).
			WillReturnRows(pgxmock.NewRows(append(append([]string{}, sessionRowColumns...), "inserted")).
				AddRow(append(sessionRow(session), true)...))

		got, created, err := repo.FindOrCreateActive(ctx, session)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, domain.ScraperStatusPending, got.StatusOf(domain.PlatformAppStore))
		assert.Equal(t, domain.ScraperStatusDisabled, got.StatusOf(domain.PlatformReddit))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reuses the active session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		reportID := uuid.New()
		existing := domain.NewScrapingSession(reportID, []domain.Platform{domain.PlatformReddit})
		existing.Statuses[domain.PlatformReddit] = domain.ScraperStatusRunning
		attempt := domain.NewScrapingSession(reportID, []domain.Platform{domain.PlatformReddit})

		mock.ExpectQuery(`INSERT INTO scraping_sessions`).
			WillReturnRows(pgxmock.NewRows(append(append([]string{}, sessionRowColumns...), "inserted")).
				AddRow(append(sessionRow(existing), false)...))

		got, created, err := repo.FindOrCreateActive(ctx, attempt)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, got.ID)
		assert.Equal(t, domain.ScraperStatusRunning, got.StatusOf(domain.PlatformReddit))
	})

	t.Run("unknown report", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		mock.ExpectQuery(`INSERT INTO scraping_sessions`).
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

		_, _, err = repo.FindOrCreateActive(ctx, domain.NewScrapingSession(uuid.New(), []domain.Platform{domain.PlatformReddit}))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPgSessionRepository_GetActive(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgSessionRepository(mock)
	reportID := uuid.New()
	mock.ExpectQuery(`WHERE report_id = \$1 AND completed_at IS NULL`).
		WithArgs(reportID).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetActive(ctx, reportID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSessionRepository_UpdatePlatformStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("updates the platform column", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		session := domain.NewScrapingSession(uuid.New(), []domain.Platform{domain.PlatformGooglePlay})
		session.Statuses[domain.PlatformGooglePlay] = domain.ScraperStatusRunning
		started := time.Now().UTC()
		session.StartedAt = &started

		mock.ExpectQuery(`google_play_scraper_status = \$2`).
			WithArgs(session.ReportID, domain.ScraperStatusRunning).
			WillReturnRows(pgxmock.NewRows(sessionRowColumns).AddRow(sessionRow(session)...))

		got, err := repo.UpdatePlatformStatus(ctx, session.ReportID, domain.PlatformGooglePlay, domain.ScraperStatusRunning)
		require.NoError(t, err)
		assert.Equal(t, domain.ScraperStatusRunning, got.StatusOf(domain.PlatformGooglePlay))
		require.NotNil(t, got.StartedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no active session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		mock.ExpectQuery(`reddit_scraper_status = \$2`).WillReturnError(pgx.ErrNoRows)

		_, err = repo.UpdatePlatformStatus(ctx, uuid.New(), domain.PlatformReddit, domain.ScraperStatusCompleted)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects unknown platform and status", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSessionRepository(mock)
		_, err = repo.UpdatePlatformStatus(ctx, uuid.New(), "twitter", domain.ScraperStatusRunning)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = repo.UpdatePlatformStatus(ctx, uuid.New(), domain.PlatformReddit, "paused")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgSessionRepository_Complete(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgSessionRepository(mock)
	id := uuid.New()
	mock.ExpectExec(`UPDATE scraping_sessions`).
		WithArgs(id, 42).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE scraping_sessions`).
		WithArgs(id, 42).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.Complete(ctx, id, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Complete(ctx, id, 42)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
