package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/database"
	"github.com/happynocode/app-review-analysis/internal/domain"
)

var _ ThemeRepository = (*PgThemeRepository)(nil)

// PgThemeRepository is a PostgreSQL implementation of ThemeRepository.
type PgThemeRepository struct {
	db DBTX
}

// NewPgThemeRepository creates a new PostgreSQL theme repository.
func NewPgThemeRepository(db DBTX) *PgThemeRepository {
	return &PgThemeRepository{db: db}
}

// ReplaceForReport swaps the report's theme set atomically. When the
// underlying DBTX can begin a transaction (pool or pgx.Tx savepoint) the
// delete and inserts run inside it.
func (r *PgThemeRepository) ReplaceForReport(ctx context.Context, reportID uuid.UUID, themes []*domain.Theme) error {
	if reportID == uuid.Nil {
		return domain.NewValidationError("report_id", "report ID is required")
	}
	for i, th := range themes {
		if th == nil || th.ID == uuid.Nil {
			return domain.NewValidationError("themes", fmt.Sprintf("theme %d has no ID", i))
		}
	}

	if beginner, ok := r.db.(database.Beginner); ok {
		return database.RunInTx(ctx, beginner, *zerolog.Ctx(ctx), func(tx pgx.Tx) error {
			return replaceThemes(ctx, tx, reportID, themes)
		})
	}
	return replaceThemes(ctx, r.db, reportID, themes)
}

func replaceThemes(ctx context.Context, db DBTX, reportID uuid.UUID, themes []*domain.Theme) error {
	if _, err := db.Exec(ctx, `DELETE FROM themes WHERE report_id = $1`, reportID); err != nil {
		return fmt.Errorf("failed to delete existing themes: %w", err)
	}
	if len(themes) == 0 {
		return nil
	}

	const (
		insertTheme = `
			INSERT INTO themes (id, report_id, platform, title, description, importance, rank, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		insertQuote = `
			INSERT INTO theme_quotes (id, theme_id, quote_text, frequency, position)
			VALUES ($1, $2, $3, $4, $5)`
		insertSuggestion = `
			INSERT INTO theme_suggestions (id, theme_id, suggestion_text, position)
			VALUES ($1, $2, $3, $4)`
	)

	batch := &pgx.Batch{}
	for _, th := range themes {
		batch.Queue(insertTheme,
			th.ID, reportID, th.Platform, th.Title, th.Description, th.Importance, th.Rank, th.CreatedAt)
		for pos, q := range th.Quotes {
			batch.Queue(insertQuote, q.ID, th.ID, q.Text, q.Frequency, pos)
		}
		for pos, s := range th.Suggestions {
			batch.Queue(insertSuggestion, s.ID, th.ID, s.Text, pos)
		}
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert theme rows (statement %d): %w", i, err)
		}
	}
	return nil
}

// ListByReport loads themes with their quotes and suggestions.
func (r *PgThemeRepository) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*domain.Theme, error) {
	themeRows, err := r.db.Query(ctx, `
		SELECT id, report_id, platform, title, description, importance, rank, created_at
		FROM themes
		WHERE report_id = $1
		ORDER BY platform, rank`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list themes: %w", err)
	}

	var themes []*domain.Theme
	byID := make(map[uuid.UUID]*domain.Theme)
	for themeRows.Next() {
		var th domain.Theme
		if err := themeRows.Scan(
			&th.ID, &th.ReportID, &th.Platform, &th.Title, &th.Description,
			&th.Importance, &th.Rank, &th.CreatedAt,
		); err != nil {
			themeRows.Close()
			return nil, fmt.Errorf("failed to scan theme: %w", err)
		}
		th.Quotes = []domain.Quote{}
		th.Suggestions = []domain.Suggestion{}
		themes = append(themes, &th)
		byID[th.ID] = &th
	}
	themeRows.Close()
	if err := themeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating themes: %w", err)
	}
	if len(themes) == 0 {
		return themes, nil
	}

	quoteRows, err := r.db.Query(ctx, `
		SELECT q.id, q.theme_id, q.quote_text, q.frequency
		FROM theme_quotes q
		JOIN themes t ON t.id = q.theme_id
		WHERE t.report_id = $1
		ORDER BY q.theme_id, q.position`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list theme quotes: %w", err)
	}
	for quoteRows.Next() {
		var q domain.Quote
		if err := quoteRows.Scan(&q.ID, &q.ThemeID, &q.Text, &q.Frequency); err != nil {
			quoteRows.Close()
			return nil, fmt.Errorf("failed to scan theme quote: %w", err)
		}
		if th, ok := byID[q.ThemeID]; ok {
			th.Quotes = append(th.Quotes, q)
		}
	}
	quoteRows.Close()
	if err := quoteRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating theme quotes: %w", err)
	}

	suggestionRows, err := r.db.Query(ctx, `
		SELECT s.id, s.theme_id, s.suggestion_text
		FROM theme_suggestions s
		JOIN themes t ON t.id = s.theme_id
		WHERE t.report_id = $1
		ORDER BY s.theme_id, s.position`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list theme suggestions: %w", err)
	}
	for suggestionRows.Next() {
		var s domain.Suggestion
		if err := suggestionRows.Scan(&s.ID, &s.ThemeID, &s.Text); err != nil {
			suggestionRows.Close()
			return nil, fmt.Errorf("failed to scan theme suggestion: %w", err)
		}
		if th, ok := byID[s.ThemeID]; ok {
			th.Suggestions = append(th.Suggestions, s)
		}
	}
	suggestionRows.Close()
	if err := suggestionRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating theme suggestions: %w", err)
	}

	return themes, nil
}

// CountByPlatform returns the number of themes per platform for a report.
func (r *PgThemeRepository) CountByPlatform(ctx context.Context, reportID uuid.UUID) (map[domain.Platform]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT platform, COUNT(*)
		FROM themes
		WHERE report_id = $1
		GROUP BY platform`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to count themes: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Platform]int)
	for rows.Next() {
		var (
			platform domain.Platform
			n        int64
		)
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("failed to scan theme count: %w", err)
		}
		counts[platform] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating theme counts: %w", err)
	}
	return counts, nil
}
