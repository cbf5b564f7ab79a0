// Package alerting publishes pipeline metrics and alerts to external sinks.
//
// Every sink is fire-and-forget: publish errors are logged at debug level and
// counted, and never propagate back into the pipeline.
package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by the pipeline.
const (
	AlertReportFailed      = "report_failed"
	AlertForcedCompletion  = "forced_completion"
	AlertCompletionFailed  = "completion_failed"
	AlertProvenanceDropped = "quote_provenance_dropped"
)

// Metric is a single measurement emitted by the pipeline.
type Metric struct {
	Name      string            `json:"metric_name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Alert is an operator-facing notification.
type Alert struct {
	Type      string                 `json:"alert_type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives metrics and alerts. Implementations must not block for long
// and must not return errors to the caller.
type Sink interface {
	EmitMetric(ctx context.Context, m Metric)
	RaiseAlert(ctx context.Context, a Alert)
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) EmitMetric(context.Context, Metric) {}
func (NopSink) RaiseAlert(context.Context, Alert)  {}
func (NopSink) Close() error                       { return nil }

// LogSink writes metrics and alerts to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "alert_sink").Logger()}
}

// EmitMetric logs m at debug level.
func (s *LogSink) EmitMetric(_ context.Context, m Metric) {
	s.logger.Debug().
		Str("metric_name", m.Name).
		Float64("value", m.Value).
		Str("unit", m.Unit).
		Interface("tags", m.Tags).
		Msg("pipeline metric")
}

// RaiseAlert logs a at a level matching its severity.
func (s *LogSink) RaiseAlert(_ context.Context, a Alert) {
	var ev *zerolog.Event
	switch a.Severity {
	case SeverityCritical:
		ev = s.logger.Error()
	case SeverityWarning:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}
	ev.Str("alert_type", a.Type).
		Str("severity", string(a.Severity)).
		Fields(a.Details).
		Msg(a.Message)
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// MultiSink fans out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// EmitMetric forwards m to every sink.
func (s *MultiSink) EmitMetric(ctx context.Context, m Metric) {
	for _, sink := range s.sinks {
		sink.EmitMetric(ctx, m)
	}
}

// RaiseAlert forwards a to every sink.
func (s *MultiSink) RaiseAlert(ctx context.Context, a Alert) {
	for _, sink := range s.sinks {
		sink.RaiseAlert(ctx, a)
	}
}

// Close closes every sink and returns the first error.
func (s *MultiSink) Close() error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
