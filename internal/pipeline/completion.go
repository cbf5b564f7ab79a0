package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/consolidation"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// Completer turns the results of a report's completed tasks into its final
// theme set.
type Completer struct {
	coord   *Coordinator
	tasks   repository.TaskRepository
	themes  repository.ThemeRepository
	sink    alerting.Sink
	opts    consolidation.Options
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCompleter creates a Completer. sink and metrics may be nil.
func NewCompleter(
	coord *Coordinator,
	tasks repository.TaskRepository,
	themes repository.ThemeRepository,
	sink alerting.Sink,
	opts consolidation.Options,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Completer {
	if sink == nil {
		sink = alerting.NopSink{}
	}
	return &Completer{
		coord:   coord,
		tasks:   tasks,
		themes:  themes,
		sink:    sink,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With().Str("component", "completer").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Complete consolidates and persists the report's themes. Only the caller
// that wins the analyzing -> completing transition does any work; the others
// get ALREADY_COMPLETED or ALREADY_PROCESSING back with a nil error. A report
// found in any other state yields STATUS_UPDATE_FAILED and a conflict error
// so the caller may retry later.
func (c *Completer) Complete(ctx context.Context, reportID uuid.UUID) (domain.CompletionOutcome, error) {
	outcome, err := c.coord.BeginCompletion(ctx, reportID)
	if err != nil {
		return outcome, err
	}
	switch outcome {
	case domain.CompletionAcquired:
	case domain.CompletionStatusUpdateFailed:
		return outcome, fmt.Errorf("%w: report %s is not analyzing", domain.ErrConflict, reportID)
	default:
		c.logger.Debug().
			Str("report_id", reportID.String()).
			Str("outcome", string(outcome)).
			Msg("completion already handled")
		return outcome, nil
	}

	results, err := c.tasks.ListCompletedResults(ctx, reportID)
	if err != nil {
		return outcome, c.failCompletion(ctx, reportID, fmt.Errorf("load task results: %w", err))
	}
	if len(results) == 0 {
		return outcome, c.failCompletion(ctx, reportID, domain.ErrNoCompletedTasks)
	}

	themes := c.consolidate(ctx, reportID, results)

	if err := c.themes.ReplaceForReport(ctx, reportID, themes); err != nil {
		return outcome, c.failCompletion(ctx, reportID, fmt.Errorf("save themes: %w", err))
	}

	if err := c.coord.FinishCompletion(ctx, reportID); err != nil {
		return outcome, err
	}

	c.metrics.RecordCompletionOutcome(string(domain.CompletionCompleted))
	c.logger.Info().
		Str("report_id", reportID.String()).
		Int("themes", len(themes)).
		Int("task_results", len(results)).
		Msg("report completed")
	return domain.CompletionCompleted, nil
}

// consolidate runs the engine once per platform, in platform order, and
// converts the output into ranked domain themes.
func (c *Completer) consolidate(ctx context.Context, reportID uuid.UUID, results []domain.TaskResult) []*domain.Theme {
	byPlatform := make(map[domain.Platform][]domain.ThemeCandidate)
	for _, r := range results {
		for p, cands := range r {
			byPlatform[p] = append(byPlatform[p], cands...)
		}
	}
	platforms := make([]domain.Platform, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	domain.SortPlatforms(platforms)

	now := c.now()
	var out []*domain.Theme
	for _, p := range platforms {
		input := byPlatform[p]
		consolidated := consolidation.Consolidate(input, c.opts)
		filtered, dropped := consolidation.FilterProvenance(consolidated, input)

		c.metrics.RecordConsolidation(len(input), len(filtered))
		if dropped > 0 {
			c.metrics.RecordQuotesDropped(dropped)
			c.logger.Warn().
				Str("report_id", reportID.String()).
				Str("platform", string(p)).
				Int("dropped", dropped).
				Msg("dropped quotes without provenance")
			c.sink.RaiseAlert(ctx, alerting.Alert{
				Type:     alerting.AlertProvenanceDropped,
				Severity: alerting.SeverityWarning,
				Message:  fmt.Sprintf("%d quotes had no source review", dropped),
				Details: map[string]interface{}{
					"report_id": reportID.String(),
					"platform":  string(p),
				},
				Timestamp: now,
			})
		}
		c.sink.EmitMetric(ctx, alerting.Metric{
			Name:  "consolidation_themes",
			Value: float64(len(filtered)),
			Unit:  "count",
			Tags: map[string]string{
				"platform":   string(p),
				"candidates": fmt.Sprintf("%d", len(input)),
			},
			Timestamp: now,
		})

		for rank, t := range filtered {
			out = append(out, toDomainTheme(reportID, p, rank+1, t, now))
		}
	}
	return out
}

func toDomainTheme(reportID uuid.UUID, platform domain.Platform, rank int, t consolidation.Theme, now time.Time) *domain.Theme {
	id := uuid.New()
	quotes := make([]domain.Quote, len(t.Quotes))
	for i, q := range t.Quotes {
		quotes[i] = domain.Quote{ID: uuid.New(), ThemeID: id, Text: q.Text, Frequency: q.Frequency}
	}
	suggestions := make([]domain.Suggestion, len(t.Suggestions))
	for i, s := range t.Suggestions {
		suggestions[i] = domain.Suggestion{ID: uuid.New(), ThemeID: id, Text: s}
	}
	return &domain.Theme{
		ID:          id,
		ReportID:    reportID,
		Platform:    platform,
		Title:       t.Title,
		Description: t.Description,
		Importance:  t.Importance,
		Rank:        rank,
		Quotes:      quotes,
		Suggestions: suggestions,
		CreatedAt:   now,
	}
}

// failCompletion marks the report failed at the completion stage and returns
// cause for the caller.
func (c *Completer) failCompletion(ctx context.Context, reportID uuid.UUID, cause error) error {
	c.sink.RaiseAlert(ctx, alerting.Alert{
		Type:      alerting.AlertCompletionFailed,
		Severity:  alerting.SeverityCritical,
		Message:   cause.Error(),
		Details:   map[string]interface{}{"report_id": reportID.String()},
		Timestamp: c.now(),
	})
	if err := c.coord.Fail(ctx, reportID, domain.FailureStageCompletion, cause.Error()); err != nil {
		return fmt.Errorf("%w (while failing report: %v)", cause, err)
	}
	return fmt.Errorf("complete report %s: %w", reportID, cause)
}
