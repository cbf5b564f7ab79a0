// Package observability provides logging and metrics support for the review
// analysis pipeline.
//
// # Logging
//
// Loggers are zerolog instances built from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithReportContext(logger, reportID, appName)
//
// Temporal receives the same logger through NewTemporalLogger.
//
// # Metrics
//
// Metrics are registered once per process under a namespace:
//
//	metrics := observability.NewMetrics("review_pipeline")
//	metrics.RecordTransition("analyzing", "completing")
//
// All Record* methods are safe to call on a nil *Metrics, so components can
// run without metrics in tests.
//
// # Context
//
// Report, task and request identifiers travel in context.Context through the
// WithX / XFromContext helpers and are attached to log lines by LoggerFromContext.
package observability
