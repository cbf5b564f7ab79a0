package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// MonitorConfig tunes the scraping completion monitor.
type MonitorConfig struct {
	MaxScrapingWait time.Duration
	BatchLimit      int
}

// MonitorResult summarises one monitor tick.
type MonitorResult struct {
	Checked  int
	Advanced int
	Forced   int
	Failed   int
	Errors   int
}

// Monitor moves reports out of scraping once their scrapers are done, or
// once they have waited too long.
type Monitor struct {
	coord     *Coordinator
	scheduler *Scheduler
	reports   repository.ReportRepository
	sessions  repository.SessionRepository
	reviews   repository.ReviewRepository
	sink      alerting.Sink
	cfg       MonitorConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewMonitor creates a Monitor. sink and metrics may be nil.
func NewMonitor(
	coord *Coordinator,
	scheduler *Scheduler,
	reports repository.ReportRepository,
	sessions repository.SessionRepository,
	reviews repository.ReviewRepository,
	sink alerting.Sink,
	cfg MonitorConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Monitor {
	if cfg.MaxScrapingWait <= 0 {
		cfg.MaxScrapingWait = 15 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if sink == nil {
		sink = alerting.NopSink{}
	}
	return &Monitor{
		coord:     coord,
		scheduler: scheduler,
		reports:   reports,
		sessions:  sessions,
		reviews:   reviews,
		sink:      sink,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "monitor").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tick inspects every scraping report once. A report advances when every
// enabled scraper has stopped and at least one completed, or when it has
// been scraping longer than MaxScrapingWait. Reports left in
// scraping_completed by an interrupted hand-off are re-driven. Per-report
// errors are logged and counted; only listing failures abort the tick.
func (m *Monitor) Tick(ctx context.Context) (MonitorResult, error) {
	var result MonitorResult

	scraping, err := m.reports.ListByStatus(ctx, domain.ReportStatusScraping, m.cfg.BatchLimit)
	if err != nil {
		return result, fmt.Errorf("list scraping reports: %w", err)
	}
	for _, report := range scraping {
		result.Checked++
		if err := m.check(ctx, report, &result); err != nil {
			result.Errors++
			m.logger.Error().Err(err).Str("report_id", report.ID.String()).Msg("scraping check failed")
		}
	}

	stalled, err := m.reports.ListByStatus(ctx, domain.ReportStatusScrapingCompleted, m.cfg.BatchLimit)
	if err != nil {
		return result, fmt.Errorf("list scraping_completed reports: %w", err)
	}
	for _, report := range stalled {
		readiness, err := m.scheduler.StartAnalysis(ctx, report.ID)
		if err != nil {
			result.Errors++
			m.logger.Error().Err(err).Str("report_id", report.ID.String()).Msg("analysis hand-off failed")
			continue
		}
		if readiness == ReadinessFailed {
			result.Failed++
		}
	}

	return result, nil
}

func (m *Monitor) check(ctx context.Context, report *domain.Report, result *MonitorResult) error {
	session, err := m.sessions.GetActive(ctx, report.ID)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("load scraping session: %w", err)
	}

	complete := session != nil && session.IsScrapingComplete()
	elapsed := m.now().Sub(scrapingStart(report))
	forced := !complete && elapsed >= m.cfg.MaxScrapingWait
	if !complete && !forced {
		return nil
	}

	counts, err := m.reviews.CountByPlatform(ctx, report.ID)
	if err != nil {
		return fmt.Errorf("count reviews: %w", err)
	}
	total := sumCounts(counts)

	ok, err := m.coord.Transition(ctx, report.ID, domain.ReportStatusScraping, domain.ReportStatusScrapingCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if session != nil {
		if _, err := m.sessions.Complete(ctx, session.ID, total); err != nil {
			return fmt.Errorf("close scraping session: %w", err)
		}
	}

	m.metrics.RecordScrapingCompleted(forced, elapsed.Seconds())
	if forced {
		result.Forced++
		m.logger.Warn().
			Str("report_id", report.ID.String()).
			Dur("elapsed", elapsed).
			Int("reviews", total).
			Msg("scraping timed out, forcing completion")
		m.sink.RaiseAlert(ctx, alerting.Alert{
			Type:     alerting.AlertForcedCompletion,
			Severity: alerting.SeverityWarning,
			Message:  fmt.Sprintf("scraping did not finish within %s", m.cfg.MaxScrapingWait),
			Details: map[string]interface{}{
				"report_id": report.ID.String(),
				"reviews":   total,
				"statuses":  sessionStatuses(session),
			},
			Timestamp: m.now(),
		})
	} else {
		result.Advanced++
	}

	readiness, err := m.scheduler.StartAnalysis(ctx, report.ID)
	if err != nil {
		return err
	}
	if readiness == ReadinessFailed {
		result.Failed++
	}
	return nil
}

func scrapingStart(r *domain.Report) time.Time {
	if r.ScrapingStartedAt != nil {
		return *r.ScrapingStartedAt
	}
	return r.CreatedAt
}

func sessionStatuses(s *domain.ScrapingSession) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for _, p := range s.EnabledPlatforms {
		out[string(p)] = string(s.StatusOf(p))
	}
	return out
}
