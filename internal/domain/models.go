// Package domain provides domain models and business logic for the review analysis pipeline.
package domain

import "sort"

// ReportStatus represents the lifecycle states of an analysis report.
// These values must match the database enum report_status.
type ReportStatus string

const (
	ReportStatusPending           ReportStatus = "pending"
	ReportStatusScraping          ReportStatus = "scraping"
	ReportStatusScrapingCompleted ReportStatus = "scraping_completed"
	ReportStatusAnalyzing         ReportStatus = "analyzing"
	ReportStatusCompleting        ReportStatus = "completing"
	ReportStatusCompleted         ReportStatus = "completed"
	ReportStatusFailed            ReportStatus = "failed"
	ReportStatusError             ReportStatus = "error"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s ReportStatus) IsTerminal() bool {
	switch s {
	case ReportStatusCompleted, ReportStatusFailed, ReportStatusError:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known report status.
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusPending, ReportStatusScraping, ReportStatusScrapingCompleted,
		ReportStatusAnalyzing, ReportStatusCompleting, ReportStatusCompleted,
		ReportStatusFailed, ReportStatusError:
		return true
	default:
		return false
	}
}

// Platform identifies a review source.
// These values must match the database enum review_platform.
type Platform string

const (
	PlatformAppStore   Platform = "app_store"
	PlatformGooglePlay Platform = "google_play"
	PlatformReddit     Platform = "reddit"
)

// AllPlatforms lists every supported review source in canonical order.
var AllPlatforms = []Platform{PlatformAppStore, PlatformGooglePlay, PlatformReddit}

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformAppStore, PlatformGooglePlay, PlatformReddit:
		return true
	default:
		return false
	}
}

// DisplayName returns the human readable platform name used in prompts and logs.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformAppStore:
		return "Apple App Store"
	case PlatformGooglePlay:
		return "Google Play"
	case PlatformReddit:
		return "Reddit"
	default:
		return string(p)
	}
}

// SortPlatforms sorts platforms in place in canonical order and returns the slice.
func SortPlatforms(ps []Platform) []Platform {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

// ScraperStatus represents the state of one platform scraper within a session.
// These values must match the database enum scraper_status.
type ScraperStatus string

const (
	ScraperStatusDisabled  ScraperStatus = "disabled"
	ScraperStatusPending   ScraperStatus = "pending"
	ScraperStatusRunning   ScraperStatus = "running"
	ScraperStatusCompleted ScraperStatus = "completed"
	ScraperStatusFailed    ScraperStatus = "failed"
)

// IsTerminal returns true once the scraper has stopped, successfully or not.
func (s ScraperStatus) IsTerminal() bool {
	return s == ScraperStatusCompleted || s == ScraperStatusFailed
}

// IsValid reports whether s is a known scraper status.
func (s ScraperStatus) IsValid() bool {
	switch s {
	case ScraperStatusDisabled, ScraperStatusPending, ScraperStatusRunning,
		ScraperStatusCompleted, ScraperStatusFailed:
		return true
	default:
		return false
	}
}

// TaskStatus represents the state of an analysis task.
// These values must match the database enum task_status.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsOpen returns true while the task can still change state.
func (s TaskStatus) IsOpen() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing
}

// CompletionOutcome is the result of trying to start report completion.
type CompletionOutcome string

const (
	// CompletionAcquired means this caller owns the completion run.
	CompletionAcquired CompletionOutcome = "ACQUIRED"
	// CompletionAlreadyCompleted means the report was already completed; no-op.
	CompletionAlreadyCompleted CompletionOutcome = "ALREADY_COMPLETED"
	// CompletionAlreadyProcessing means another worker is mid-completion.
	CompletionAlreadyProcessing CompletionOutcome = "ALREADY_PROCESSING"
	// CompletionStatusUpdateFailed means the report was in an unexpected state.
	CompletionStatusUpdateFailed CompletionOutcome = "STATUS_UPDATE_FAILED"
	// CompletionCompleted means this caller ran the completion to the end.
	CompletionCompleted CompletionOutcome = "COMPLETED"
)

// IsBenign returns true for outcomes that need no further action from the caller.
func (o CompletionOutcome) IsBenign() bool {
	switch o {
	case CompletionAlreadyCompleted, CompletionAlreadyProcessing, CompletionCompleted:
		return true
	default:
		return false
	}
}

// FailureStage names the pipeline stage in which a report failed.
type FailureStage string

const (
	FailureStageScraping   FailureStage = "scraping"
	FailureStageAnalysis   FailureStage = "analysis"
	FailureStageCompletion FailureStage = "completion"
)
