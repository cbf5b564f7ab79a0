// Package workflows defines the Temporal workflows that drive the review
// analysis pipeline.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/temporal/activities"
)

// Activity timeout constants.
const (
	monitorActivityTimeout  = 2 * time.Minute
	dispatchActivityTimeout = 15 * time.Minute
	completeActivityTimeout = 5 * time.Minute
)

// defaultCompletionConcurrency bounds the completion activities in flight
// when the input does not set one.
const defaultCompletionConcurrency = 4

// PipelineTickInput configures one pipeline tick. Cron runs receive the same
// input every time.
type PipelineTickInput struct {
	// CompletionConcurrency bounds parallel report completions (default 4).
	CompletionConcurrency int
}

// PipelineTickResult summarizes one pipeline tick.
type PipelineTickResult struct {
	// Monitor is nil when the monitor activity failed.
	Monitor *activities.MonitorTickOutput

	// Dispatch is nil when the dispatch activity failed.
	Dispatch *activities.DispatchOutput

	// Outcomes counts completion outcomes by kind.
	Outcomes map[domain.CompletionOutcome]int

	// CompletionErrors counts completion activities that failed.
	CompletionErrors int

	// StageErrors holds one message per failed stage activity.
	StageErrors []string
}

// PipelineTickWorkflow runs one pass of the pipeline: the scraping monitor,
// then a dispatch of pending analysis tasks, then completion of every report
// the dispatch found ready. Each stage settles independently: a failing stage
// is recorded and the remaining stages still run. The workflow only fails
// when both the monitor and the dispatch failed.
func PipelineTickWorkflow(ctx workflow.Context, input PipelineTickInput) (*PipelineTickResult, error) {
	logger := workflow.GetLogger(ctx)

	var act *activities.PipelineActivities
	result := &PipelineTickResult{Outcomes: make(map[domain.CompletionOutcome]int)}

	monitorCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: monitorActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	var mon activities.MonitorTickOutput
	if err := workflow.ExecuteActivity(monitorCtx, act.MonitorScraping).Get(ctx, &mon); err != nil {
		logger.Warn("scraping monitor failed", "error", err)
		result.StageErrors = append(result.StageErrors, fmt.Sprintf("monitor: %v", err))
	} else {
		result.Monitor = &mon
	}

	// Single attempt: the next tick dispatches again.
	dispatchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: dispatchActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	var disp activities.DispatchOutput
	if err := workflow.ExecuteActivity(dispatchCtx, act.DispatchTasks).Get(ctx, &disp); err != nil {
		logger.Warn("task dispatch failed", "error", err)
		result.StageErrors = append(result.StageErrors, fmt.Sprintf("dispatch: %v", err))
	} else {
		result.Dispatch = &disp
	}

	if result.Monitor == nil && result.Dispatch == nil {
		return result, fmt.Errorf("pipeline tick: monitor and dispatch both failed")
	}

	if result.Dispatch != nil && len(result.Dispatch.Ready) > 0 {
		completeReports(ctx, act, result.Dispatch, input, result)
	}

	for _, outcome := range SortedMapKeys(result.Outcomes) {
		logger.Info("completion outcome", "outcome", outcome, "count", result.Outcomes[outcome])
	}

	return result, nil
}

// completeReports runs CompleteReport for every ready report in windows of
// input.CompletionConcurrency. A failed completion is counted and does not
// stop the others.
func completeReports(ctx workflow.Context, act *activities.PipelineActivities, disp *activities.DispatchOutput, input PipelineTickInput, result *PipelineTickResult) {
	logger := workflow.GetLogger(ctx)

	limit := input.CompletionConcurrency
	if limit <= 0 {
		limit = defaultCompletionConcurrency
	}

	completeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: completeActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	ready := disp.Ready
	for start := 0; start < len(ready); start += limit {
		window := ready[start:min(start+limit, len(ready))]

		futures := make([]workflow.Future, len(window))
		for i, id := range window {
			futures[i] = workflow.ExecuteActivity(completeCtx, act.CompleteReport, activities.CompleteReportInput{ReportID: id})
		}

		for i, f := range futures {
			var out activities.CompleteReportOutput
			if err := f.Get(ctx, &out); err != nil {
				result.CompletionErrors++
				logger.Warn("report completion failed", "reportID", window[i], "error", err)
				continue
			}
			result.Outcomes[out.Outcome]++
		}
	}
}
