package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// ThemeRepository persists consolidated themes.
type ThemeRepository interface {
	// ReplaceForReport deletes every theme of the report and inserts themes,
	// with their quotes and suggestions, in a single transaction.
	ReplaceForReport(ctx context.Context, reportID uuid.UUID, themes []*domain.Theme) error

	// ListByReport returns the report's themes ordered by platform and rank,
	// with quotes and suggestions attached.
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*domain.Theme, error)

	// CountByPlatform returns the number of themes per platform for a report.
	CountByPlatform(ctx context.Context, reportID uuid.UUID) (map[domain.Platform]int, error)
}
