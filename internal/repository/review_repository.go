package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// ReviewRepository persists raw reviews written by scrapers.
type ReviewRepository interface {
	// InsertBatch writes reviews in one round trip. Rows whose ID already
	// exists are skipped, so scrapers may resend a page safely. Returns the
	// number of rows actually inserted.
	InsertBatch(ctx context.Context, reviews []*domain.Review) (int, error)

	// ListIDsForBatching returns every review ID of the report ordered by
	// (platform, created_at, id), the order batches are cut in.
	ListIDsForBatching(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error)

	// GetByIDs loads the given reviews in batching order. Missing IDs are skipped.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Review, error)

	// CountByPlatform returns the number of reviews per platform for a report.
	CountByPlatform(ctx context.Context, reportID uuid.UUID) (map[domain.Platform]int, error)
}
