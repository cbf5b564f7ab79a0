package activities

import (
	"context"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/pipeline"
	"github.com/happynocode/app-review-analysis/internal/temporal/resilience"
)

// ScrapingMonitor advances reports out of the scraping stage.
type ScrapingMonitor interface {
	Tick(ctx context.Context) (pipeline.MonitorResult, error)
}

// TaskDispatcher claims and runs pending analysis tasks.
type TaskDispatcher interface {
	Dispatch(ctx context.Context) (pipeline.DispatchResult, error)
}

// ReportCompleter consolidates and persists the themes of a ready report.
type ReportCompleter interface {
	Complete(ctx context.Context, reportID uuid.UUID) (domain.CompletionOutcome, error)
}

// PipelineActivities exposes the pipeline stages as Temporal activities.
// Methods on this struct are registered as Temporal activities via the worker.
type PipelineActivities struct {
	monitor    ScrapingMonitor
	dispatcher TaskDispatcher
	completer  ReportCompleter
}

// NewPipelineActivities creates a new PipelineActivities instance.
func NewPipelineActivities(monitor ScrapingMonitor, dispatcher TaskDispatcher, completer ReportCompleter) *PipelineActivities {
	return &PipelineActivities{
		monitor:    monitor,
		dispatcher: dispatcher,
		completer:  completer,
	}
}

// MonitorScraping runs one scraping monitor pass.
func (a *PipelineActivities) MonitorScraping(ctx context.Context) (*MonitorTickOutput, error) {
	logger := activity.GetLogger(ctx)

	res, err := a.monitor.Tick(ctx)
	if err != nil {
		logger.Error("scraping monitor failed", "error", err)
		return nil, resilience.ToActivityError(err)
	}

	if res.Checked > 0 || res.Errors > 0 {
		logger.Info("scraping monitor pass",
			"checked", res.Checked,
			"advanced", res.Advanced,
			"forced", res.Forced,
			"failed", res.Failed,
			"errors", res.Errors,
		)
	}

	return &MonitorTickOutput{
		Checked:  res.Checked,
		Advanced: res.Advanced,
		Forced:   res.Forced,
		Failed:   res.Failed,
		Errors:   res.Errors,
	}, nil
}

// DispatchTasks claims a batch of pending analysis tasks, runs them and
// reports which reports became ready for completion.
func (a *PipelineActivities) DispatchTasks(ctx context.Context) (*DispatchOutput, error) {
	logger := activity.GetLogger(ctx)

	res, err := a.dispatcher.Dispatch(ctx)
	if err != nil {
		logger.Error("task dispatch failed", "error", err)
		return nil, resilience.ToActivityError(err)
	}

	if res.Claimed > 0 || res.Expired > 0 || len(res.Ready) > 0 {
		logger.Info("task dispatch pass",
			"claimed", res.Claimed,
			"completed", res.Completed,
			"retried", res.Retried,
			"failed", res.Failed,
			"stale", res.Stale,
			"expired", res.Expired,
			"reclaimed", len(res.Reclaimed),
			"ready", len(res.Ready),
		)
	}

	return &DispatchOutput{
		Claimed:       res.Claimed,
		Completed:     res.Completed,
		Retried:       res.Retried,
		Failed:        res.Failed,
		Stale:         res.Stale,
		Expired:       res.Expired,
		Reclaimed:     res.Reclaimed,
		Ready:         res.Ready,
		FailedReports: res.FailedReports,
	}, nil
}

// CompleteReport consolidates the task results of one report and marks it
// completed. Losing the completion race is a benign outcome, not an error.
func (a *PipelineActivities) CompleteReport(ctx context.Context, input CompleteReportInput) (*CompleteReportOutput, error) {
	logger := activity.GetLogger(ctx)

	outcome, err := a.completer.Complete(ctx, input.ReportID)
	if err != nil {
		logger.Error("report completion failed",
			"reportID", input.ReportID,
			"outcome", outcome,
			"error", err,
		)
		return nil, resilience.ToActivityError(err)
	}

	logger.Info("report completion resolved",
		"reportID", input.ReportID,
		"outcome", outcome,
	)

	return &CompleteReportOutput{ReportID: input.ReportID, Outcome: outcome}, nil
}
