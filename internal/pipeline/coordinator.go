// Package pipeline drives reports from scraping to consolidated themes.
//
// Every stage is a stateless operation keyed by report ID. Mutual exclusion
// between concurrent workers comes exclusively from conditional updates in
// the store: a transition that matches zero rows means another worker got
// there first, and the caller backs off instead of retrying.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// Coordinator owns report status transitions.
type Coordinator struct {
	reports repository.ReportRepository
	sink    alerting.Sink
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewCoordinator creates a Coordinator. sink and metrics may be nil.
func NewCoordinator(reports repository.ReportRepository, sink alerting.Sink, metrics *observability.Metrics, logger zerolog.Logger) *Coordinator {
	if sink == nil {
		sink = alerting.NopSink{}
	}
	return &Coordinator{
		reports: reports,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// Transition moves the report from -> to with a conditional update. It
// returns false, without error, when the report was not in from.
func (c *Coordinator) Transition(ctx context.Context, reportID uuid.UUID, from, to domain.ReportStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, &domain.TransitionError{ReportID: reportID.String(), From: from, To: to}
	}

	ok, err := c.reports.TransitionStatus(ctx, reportID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition report %s from %s to %s: %w", reportID, from, to, err)
	}
	if !ok {
		c.metrics.RecordTransitionConflict(string(from), string(to))
		c.logger.Debug().
			Str("report_id", reportID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition matched no rows")
		return false, nil
	}

	c.metrics.RecordTransition(string(from), string(to))
	c.logger.Info().
		Str("report_id", reportID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("report transitioned")
	return true, nil
}

// BeginCompletion claims the analyzing -> completing transition. When the
// claim misses, the current status tells apart a finished report, a report
// another worker is completing, and a report in an unexpected state.
func (c *Coordinator) BeginCompletion(ctx context.Context, reportID uuid.UUID) (domain.CompletionOutcome, error) {
	ok, err := c.Transition(ctx, reportID, domain.ReportStatusAnalyzing, domain.ReportStatusCompleting)
	if err != nil {
		return domain.CompletionStatusUpdateFailed, err
	}

	outcome := domain.CompletionAcquired
	if !ok {
		report, err := c.reports.Get(ctx, reportID)
		if err != nil {
			return domain.CompletionStatusUpdateFailed, fmt.Errorf("load report %s after missed completion claim: %w", reportID, err)
		}
		switch report.Status {
		case domain.ReportStatusCompleted:
			outcome = domain.CompletionAlreadyCompleted
		case domain.ReportStatusCompleting:
			outcome = domain.CompletionAlreadyProcessing
		default:
			outcome = domain.CompletionStatusUpdateFailed
		}
	}

	c.metrics.RecordCompletionOutcome(string(outcome))
	return outcome, nil
}

// FinishCompletion moves completing -> completed. If the conditional update
// misses or errors, the report is forced to completed anyway since its themes
// are already persisted.
func (c *Coordinator) FinishCompletion(ctx context.Context, reportID uuid.UUID) error {
	ok, err := c.Transition(ctx, reportID, domain.ReportStatusCompleting, domain.ReportStatusCompleted)
	if ok {
		return nil
	}

	event := c.logger.Warn().Str("report_id", reportID.String())
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("completing -> completed did not apply, forcing completed")

	if forceErr := c.reports.ForceCompleted(ctx, reportID); forceErr != nil {
		if err != nil {
			return fmt.Errorf("force report %s completed: %w (transition error: %v)", reportID, forceErr, err)
		}
		return fmt.Errorf("force report %s completed: %w", reportID, forceErr)
	}
	c.metrics.RecordCompletionFallback()
	return nil
}

// ReclaimStalledCompletions moves completing reports untouched since before
// back to analyzing, so the next completion attempt redoes their work.
func (c *Coordinator) ReclaimStalledCompletions(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := c.reports.ReclaimStaleCompleting(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("reclaim stalled completions: %w", err)
	}
	for _, id := range ids {
		c.metrics.RecordTransition(string(domain.ReportStatusCompleting), string(domain.ReportStatusAnalyzing))
		c.logger.Warn().
			Str("report_id", id.String()).
			Time("stalled_since", before).
			Msg("stalled completion re-opened")
	}
	return ids, nil
}

// Fail moves a non-terminal report to failed, recording the stage and a
// human-readable message. Failing a report that is already terminal is a no-op.
func (c *Coordinator) Fail(ctx context.Context, reportID uuid.UUID, stage domain.FailureStage, message string) error {
	ok, err := c.reports.Fail(ctx, reportID, domain.ReportStatusFailed, stage, message)
	if err != nil {
		return fmt.Errorf("fail report %s: %w", reportID, err)
	}
	if !ok {
		c.logger.Debug().
			Str("report_id", reportID.String()).
			Str("stage", string(stage)).
			Msg("report already terminal, not failing")
		return nil
	}

	c.metrics.RecordReportFailed(string(stage))
	c.logger.Error().
		Str("report_id", reportID.String()).
		Str("stage", string(stage)).
		Str("reason", message).
		Msg("report failed")
	c.sink.RaiseAlert(ctx, alerting.Alert{
		Type:     alerting.AlertReportFailed,
		Severity: alerting.SeverityCritical,
		Message:  message,
		Details: map[string]interface{}{
			"report_id": reportID.String(),
			"stage":     string(stage),
		},
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// isNotFound reports whether err means the entity does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
