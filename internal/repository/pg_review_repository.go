package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

var _ ReviewRepository = (*PgReviewRepository)(nil)

// PgReviewRepository is a PostgreSQL implementation of ReviewRepository.
type PgReviewRepository struct {
	db DBTX
}

// NewPgReviewRepository creates a new PostgreSQL review repository.
func NewPgReviewRepository(db DBTX) *PgReviewRepository {
	return &PgReviewRepository{db: db}
}

// InsertBatch writes reviews with a pgx.Batch, skipping IDs that already exist.
func (r *PgReviewRepository) InsertBatch(ctx context.Context, reviews []*domain.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO reviews (
			id, report_id, platform, review_text, rating, review_date,
			author_name, source_url, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`

	batch := &pgx.Batch{}
	for i, rv := range reviews {
		if err := validateReview(rv); err != nil {
			return 0, fmt.Errorf("review %d: %w", i, err)
		}
		metadata := rv.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata for review %d: %w", i, err)
		}
		batch.Queue(query,
			rv.ID, rv.ReportID, rv.Platform, rv.Text, rv.Rating, rv.ReviewDate,
			nullString(rv.AuthorName), nullString(rv.SourceURL), metadataJSON, rv.CreatedAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range reviews {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, pgx.ErrNoRows):
			// already stored
		case isPgForeignKeyViolation(err):
			return inserted, domain.NewNotFoundError("report", reviews[i].ReportID.String())
		default:
			return inserted, fmt.Errorf("failed to insert review at index %d: %w", i, err)
		}
	}
	return inserted, nil
}

// ListIDsForBatching returns review IDs in batching order.
func (r *PgReviewRepository) ListIDsForBatching(ctx context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM reviews
		WHERE report_id = $1
		ORDER BY platform, created_at, id`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan review id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review ids: %w", err)
	}
	return ids, nil
}

// GetByIDs loads reviews by ID in batching order.
func (r *PgReviewRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Review, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, report_id, platform, review_text, rating, review_date,
			author_name, source_url, metadata, created_at
		FROM reviews
		WHERE id = ANY($1)
		ORDER BY platform, created_at, id`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]*domain.Review, 0, len(ids))
	for rows.Next() {
		var (
			rv           domain.Review
			rating       *int
			authorName   *string
			sourceURL    *string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&rv.ID, &rv.ReportID, &rv.Platform, &rv.Text, &rating, &rv.ReviewDate,
			&authorName, &sourceURL, &metadataJSON, &rv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		rv.Rating = rating
		rv.AuthorName = derefString(authorName)
		rv.SourceURL = derefString(sourceURL)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rv.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal review metadata: %w", err)
			}
		}
		reviews = append(reviews, &rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return reviews, nil
}

// CountByPlatform aggregates review counts per platform.
func (r *PgReviewRepository) CountByPlatform(ctx context.Context, reportID uuid.UUID) (map[domain.Platform]int, error) {
	query := `
		SELECT platform, COUNT(*)
		FROM reviews
		WHERE report_id = $1
		GROUP BY platform`

	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to count reviews: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Platform]int)
	for rows.Next() {
		var (
			platform domain.Platform
			n        int64
		)
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("failed to scan review count: %w", err)
		}
		counts[platform] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review counts: %w", err)
	}
	return counts, nil
}

func validateReview(rv *domain.Review) error {
	if rv == nil {
		return domain.NewValidationError("review", "review cannot be nil")
	}
	if rv.ID == uuid.Nil {
		return domain.NewValidationError("id", "review ID is required")
	}
	if rv.ReportID == uuid.Nil {
		return domain.NewValidationError("report_id", "report ID is required")
	}
	if !rv.Platform.IsValid() {
		return domain.NewValidationError("platform", "unsupported platform "+string(rv.Platform))
	}
	if strings.TrimSpace(rv.Text) == "" {
		return domain.NewValidationError("review_text", "review text is required")
	}
	if rv.Rating != nil && (*rv.Rating < 1 || *rv.Rating > 5) {
		return domain.NewValidationError("rating", "rating must be between 1 and 5")
	}
	return nil
}
