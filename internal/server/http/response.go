package httpserver

import (
	"time"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/pipeline"
)

// Request bodies. Validation tags are checked with go-playground/validator.

type createReportRequest struct {
	UserID    string   `json:"user_id" validate:"required,max=128"`
	AppName   string   `json:"app_name" validate:"required,max=200"`
	Platforms []string `json:"platforms" validate:"required,min=1,max=3,dive,oneof=app_store google_play reddit"`
}

type reviewPayload struct {
	ID         string                 `json:"id,omitempty" validate:"omitempty,uuid"`
	Platform   string                 `json:"platform" validate:"required,oneof=app_store google_play reddit"`
	ReviewText string                 `json:"review_text" validate:"required,max=20000"`
	Rating     *int                   `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	ReviewDate *time.Time             `json:"review_date,omitempty"`
	AuthorName string                 `json:"author_name,omitempty" validate:"max=200"`
	SourceURL  string                 `json:"source_url,omitempty" validate:"omitempty,url"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type ingestReviewsRequest struct {
	Reviews []reviewPayload `json:"reviews" validate:"required,min=1,max=1000,dive"`
}

type updateScraperStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending running completed failed"`
}

// Response bodies.

type errorResponse struct {
	Error string `json:"error"`
}

type reportResponse struct {
	ReportID          string     `json:"report_id"`
	UserID            string     `json:"user_id"`
	AppName           string     `json:"app_name"`
	Status            string     `json:"status"`
	Platforms         []string   `json:"platforms"`
	FailureStage      string     `json:"failure_stage,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ScrapingStartedAt *time.Time `json:"scraping_started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type sessionResponse struct {
	SessionID      string            `json:"session_id"`
	ScraperStatus  map[string]string `json:"scraper_status"`
	TotalReviews   int               `json:"total_reviews"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	ScrapingIsDone bool              `json:"scraping_is_done"`
}

type createReportResponse struct {
	Report  reportResponse  `json:"report"`
	Session sessionResponse `json:"session"`
}

type reportDetailResponse struct {
	Report      reportResponse   `json:"report"`
	Session     *sessionResponse `json:"session,omitempty"`
	ThemeCounts map[string]int   `json:"theme_counts"`
}

type listReportsResponse struct {
	Reports    []reportResponse `json:"reports"`
	TotalCount int64            `json:"total_count"`
}

type ingestReviewsResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

type analyzeResponse struct {
	ReportID  string `json:"report_id"`
	Readiness string `json:"readiness"`
}

type completeResponse struct {
	ReportID string `json:"report_id"`
	Outcome  string `json:"outcome"`
}

type quoteResponse struct {
	Text      string `json:"text"`
	Frequency int    `json:"frequency"`
}

type themeResponse struct {
	ID          string          `json:"id"`
	Platform    string          `json:"platform"`
	Rank        int             `json:"rank"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Importance  int             `json:"importance"`
	Quotes      []quoteResponse `json:"quotes"`
	Suggestions []string        `json:"suggestions"`
}

type themesResponse struct {
	ReportID string          `json:"report_id"`
	Themes   []themeResponse `json:"themes"`
}

// Converter functions

func domainReportToResponse(r *domain.Report) reportResponse {
	platforms := make([]string, len(r.Platforms))
	for i, p := range r.Platforms {
		platforms[i] = string(p)
	}
	return reportResponse{
		ReportID:          r.ID.String(),
		UserID:            r.UserID,
		AppName:           r.AppName,
		Status:            string(r.Status),
		Platforms:         platforms,
		FailureStage:      string(r.FailureStage),
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		ScrapingStartedAt: r.ScrapingStartedAt,
		CompletedAt:       r.CompletedAt,
	}
}

func domainSessionToResponse(s *domain.ScrapingSession) sessionResponse {
	statuses := make(map[string]string, len(domain.AllPlatforms))
	for _, p := range domain.AllPlatforms {
		statuses[string(p)] = string(s.StatusOf(p))
	}
	return sessionResponse{
		SessionID:      s.ID.String(),
		ScraperStatus:  statuses,
		TotalReviews:   s.TotalReviews,
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
		ScrapingIsDone: s.IsScrapingComplete(),
	}
}

func domainThemeToResponse(t *domain.Theme) themeResponse {
	quotes := make([]quoteResponse, len(t.Quotes))
	for i, q := range t.Quotes {
		quotes[i] = quoteResponse{Text: q.Text, Frequency: q.Frequency}
	}
	suggestions := make([]string, len(t.Suggestions))
	for i, s := range t.Suggestions {
		suggestions[i] = s.Text
	}
	return themeResponse{
		ID:          t.ID.String(),
		Platform:    string(t.Platform),
		Rank:        t.Rank,
		Title:       t.Title,
		Description: t.Description,
		Importance:  t.Importance,
		Quotes:      quotes,
		Suggestions: suggestions,
	}
}

func readinessToResponse(id string, r pipeline.Readiness) analyzeResponse {
	return analyzeResponse{ReportID: id, Readiness: string(r)}
}
