package observability

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	reportIDKey   contextKey = "report_id"
	taskIDKey     contextKey = "task_id"
	workflowIDKey contextKey = "workflow_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithReportID adds a report ID to the context.
func WithReportID(ctx context.Context, reportID string) context.Context {
	return context.WithValue(ctx, reportIDKey, reportID)
}

// ReportIDFromContext retrieves the report ID from context.
func ReportIDFromContext(ctx context.Context) string {
	return stringValue(ctx, reportIDKey)
}

// WithTaskID adds an analysis task ID to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromContext retrieves the analysis task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	return stringValue(ctx, taskIDKey)
}

// WithWorkflowID adds a Temporal workflow ID to the context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WorkflowIDFromContext retrieves the Temporal workflow ID from context.
func WorkflowIDFromContext(ctx context.Context) string {
	return stringValue(ctx, workflowIDKey)
}

// LoggerFromContext returns logger enriched with every identifier found in ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	for _, key := range []contextKey{requestIDKey, reportIDKey, taskIDKey, workflowIDKey} {
		if v := stringValue(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	return lc.Logger()
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
