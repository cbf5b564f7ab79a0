package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// SessionRepository persists scraping sessions.
type SessionRepository interface {
	// FindOrCreateActive inserts session unless the report already has an
	// active one, in which case the existing session is returned. created
	// reports whether a new row was written.
	FindOrCreateActive(ctx context.Context, session *domain.ScrapingSession) (active *domain.ScrapingSession, created bool, err error)

	// GetActive returns the report's active session.
	// Returns domain.ErrNotFound if there is none.
	GetActive(ctx context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error)

	// UpdatePlatformStatus sets one platform's scraper status on the active
	// session and returns the updated session. The first running status also
	// stamps started_at.
	UpdatePlatformStatus(ctx context.Context, reportID uuid.UUID, platform domain.Platform, status domain.ScraperStatus) (*domain.ScrapingSession, error)

	// Complete closes the session, recording the final review count. It
	// returns false if the session was already closed.
	Complete(ctx context.Context, sessionID uuid.UUID, totalReviews int) (bool, error)
}
