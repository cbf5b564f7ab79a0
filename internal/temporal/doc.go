// Package temporal wires the review analysis pipeline onto Temporal.
//
// The pipeline is driven by one cron workflow, PipelineTickWorkflow (package
// workflows), started at worker startup by EnsureTickWorkflow under a fixed
// workflow ID. Each run calls three activities (package activities): the
// scraping monitor, the task dispatcher and report completion. All mutual
// exclusion lives in PostgreSQL conditional updates, so overlapping runs or
// retried activities are safe.
//
// Activity errors pass through resilience.ToActivityError: permanent failures
// (invalid input, illegal transitions, reports without completed tasks)
// become non-retryable application errors.
package temporal
