// Package activities provides the Temporal activities that drive the review
// analysis pipeline: the scraping monitor, the task dispatcher and report
// completion.
//
// Activity inputs and outputs cross the Temporal serialization boundary, so
// every field is exported and JSON-encodable.
package activities

import (
	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// MonitorTickOutput summarizes one pass of the scraping monitor.
type MonitorTickOutput struct {
	// Checked is the number of scraping reports inspected.
	Checked int

	// Advanced counts reports whose scrapers all settled normally.
	Advanced int

	// Forced counts reports advanced because they exceeded the scraping wait.
	Forced int

	// Failed counts reports failed during the hand-off to analysis.
	Failed int

	// Errors counts per-report checks that errored and will be retried next tick.
	Errors int
}

// DispatchOutput summarizes one dispatch pass over the analysis task queue.
type DispatchOutput struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	Stale     int
	Expired   int

	// Reclaimed lists reports re-opened after stalling in completing.
	Reclaimed []uuid.UUID

	// Ready lists reports whose tasks have all settled under the failure threshold.
	Ready []uuid.UUID

	// FailedReports lists reports failed because too many tasks failed.
	FailedReports []uuid.UUID
}

// CompleteReportInput identifies the report to consolidate and complete.
type CompleteReportInput struct {
	ReportID uuid.UUID
}

// CompleteReportOutput reports how the completion attempt resolved.
type CompleteReportOutput struct {
	ReportID uuid.UUID
	Outcome  domain.CompletionOutcome
}
