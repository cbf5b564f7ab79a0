package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// Intake accepts new reports and the scraper traffic feeding them.
type Intake struct {
	coord    *Coordinator
	reports  repository.ReportRepository
	sessions repository.SessionRepository
	reviews  repository.ReviewRepository
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewIntake creates an Intake.
func NewIntake(
	coord *Coordinator,
	reports repository.ReportRepository,
	sessions repository.SessionRepository,
	reviews repository.ReviewRepository,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Intake {
	return &Intake{
		coord:    coord,
		reports:  reports,
		sessions: sessions,
		reviews:  reviews,
		metrics:  metrics,
		logger:   logger.With().Str("component", "intake").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateReport validates and stores a new pending report.
func (in *Intake) CreateReport(ctx context.Context, userID, appName string, platforms []domain.Platform) (*domain.Report, error) {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return nil, domain.NewValidationError("app_name", "must not be empty")
	}
	if len(platforms) == 0 {
		return nil, domain.NewValidationError("platforms", "at least one platform is required")
	}
	seen := make(map[domain.Platform]struct{}, len(platforms))
	unique := make([]domain.Platform, 0, len(platforms))
	for _, p := range platforms {
		if !p.IsValid() {
			return nil, domain.NewValidationError("platforms", "unsupported platform "+string(p))
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}

	report := domain.NewReport(userID, appName, unique)
	if err := in.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	in.metrics.RecordReportSubmitted()
	logger := observability.WithReportContext(in.logger, report.ID.String(), report.AppName)
	logger.Info().
		Strs("platforms", platformStrings(report.Platforms)).
		Msg("report created")
	return report, nil
}

// StartScraping opens the report's scraping session and moves it to scraping.
// Calling it again while the report is scraping returns the active session.
func (in *Intake) StartScraping(ctx context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error) {
	report, err := in.reports.Get(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", reportID, err)
	}

	switch report.Status {
	case domain.ReportStatusPending:
	case domain.ReportStatusScraping:
		return in.sessions.GetActive(ctx, reportID)
	default:
		return nil, fmt.Errorf("%w: report %s is %s", domain.ErrConflict, reportID, report.Status)
	}

	session, created, err := in.sessions.FindOrCreateActive(ctx, domain.NewScrapingSession(report.ID, report.Platforms))
	if err != nil {
		return nil, fmt.Errorf("open scraping session for report %s: %w", reportID, err)
	}
	if _, err := in.coord.Transition(ctx, reportID, domain.ReportStatusPending, domain.ReportStatusScraping); err != nil {
		return nil, err
	}

	in.logger.Info().
		Str("report_id", reportID.String()).
		Str("session_id", session.ID.String()).
		Bool("created", created).
		Msg("scraping started")
	return session, nil
}

// IngestReviews stores scraped reviews for a report that is still scraping.
// Reviews for platforms the report did not enable are rejected. Returns the
// number of reviews newly stored.
func (in *Intake) IngestReviews(ctx context.Context, reportID uuid.UUID, reviews []*domain.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	report, err := in.reports.Get(ctx, reportID)
	if err != nil {
		return 0, fmt.Errorf("load report %s: %w", reportID, err)
	}
	if report.Status != domain.ReportStatusScraping {
		return 0, fmt.Errorf("%w: report %s is %s, reviews are no longer accepted", domain.ErrConflict, reportID, report.Status)
	}

	enabled := make(map[domain.Platform]struct{}, len(report.Platforms))
	for _, p := range report.Platforms {
		enabled[p] = struct{}{}
	}

	now := in.now()
	for i, r := range reviews {
		if _, ok := enabled[r.Platform]; !ok {
			return 0, domain.NewValidationError(fmt.Sprintf("reviews[%d].platform", i), "platform not enabled for report: "+string(r.Platform))
		}
		if strings.TrimSpace(r.Text) == "" {
			return 0, domain.NewValidationError(fmt.Sprintf("reviews[%d].review_text", i), "must not be empty")
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.ReportID = reportID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
	}

	n, err := in.reviews.InsertBatch(ctx, reviews)
	if err != nil {
		return 0, fmt.Errorf("insert reviews for report %s: %w", reportID, err)
	}
	in.logger.Debug().
		Str("report_id", reportID.String()).
		Int("received", len(reviews)).
		Int("inserted", n).
		Msg("reviews ingested")
	return n, nil
}

// UpdateScraperStatus records a scraper's progress on the report's active
// session and returns the updated session.
func (in *Intake) UpdateScraperStatus(ctx context.Context, reportID uuid.UUID, platform domain.Platform, status domain.ScraperStatus) (*domain.ScrapingSession, error) {
	if !platform.IsValid() {
		return nil, domain.NewValidationError("platform", "unsupported platform "+string(platform))
	}
	if !status.IsValid() || status == domain.ScraperStatusDisabled {
		return nil, domain.NewValidationError("status", "unsupported scraper status "+string(status))
	}

	session, err := in.sessions.GetActive(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("load scraping session for report %s: %w", reportID, err)
	}
	if session.StatusOf(platform) == domain.ScraperStatusDisabled {
		return nil, domain.NewValidationError("platform", "platform not enabled for report: "+string(platform))
	}

	updated, err := in.sessions.UpdatePlatformStatus(ctx, reportID, platform, status)
	if err != nil {
		return nil, fmt.Errorf("update %s scraper status for report %s: %w", platform, reportID, err)
	}
	in.logger.Info().
		Str("report_id", reportID.String()).
		Str("platform", string(platform)).
		Str("status", string(status)).
		Msg("scraper status updated")
	return updated, nil
}

func platformStrings(ps []domain.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
