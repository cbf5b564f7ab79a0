package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the review analysis pipeline,
// grouped by stage: reports, scraping, tasks, extraction and consolidation.
type Metrics struct {
	// ReportsSubmitted counts reports created through the API.
	ReportsSubmitted prometheus.Counter

	// ReportTransitions counts successful status transitions, labeled by from and to.
	ReportTransitions *prometheus.CounterVec

	// TransitionConflicts counts conditional updates that matched zero rows, labeled by from and to.
	TransitionConflicts *prometheus.CounterVec

	// ReportsCompleted counts reports that reached completed.
	ReportsCompleted prometheus.Counter

	// ReportsFailed counts reports marked failed, labeled by failure stage.
	ReportsFailed *prometheus.CounterVec

	// CompletionOutcomes counts completion attempts, labeled by outcome.
	CompletionOutcomes *prometheus.CounterVec

	// CompletionFallbacks counts unconditional completed updates after a CAS miss.
	CompletionFallbacks prometheus.Counter

	// ForcedCompletions counts reports pushed past scraping by the wait timeout.
	ForcedCompletions prometheus.Counter

	// ScrapingDuration observes the time from scraping start to scraping completion.
	ScrapingDuration prometheus.Histogram

	// TasksEnqueued counts analysis tasks created.
	TasksEnqueued prometheus.Counter

	// TasksClaimed counts analysis tasks claimed by dispatchers.
	TasksClaimed prometheus.Counter

	// TasksCompleted counts analysis tasks that finished successfully.
	TasksCompleted prometheus.Counter

	// TasksRetried counts task failures that were rescheduled.
	TasksRetried prometheus.Counter

	// TasksFailed counts tasks that exhausted their retry budget.
	TasksFailed prometheus.Counter

	// TasksLeaseExpired counts processing tasks whose lease ran out.
	TasksLeaseExpired prometheus.Counter

	// TaskDuration observes per-task processing time in seconds.
	TaskDuration prometheus.Histogram

	// ExtractionRequests counts extractor calls, labeled by provider and platform.
	ExtractionRequests *prometheus.CounterVec

	// ExtractionFailures counts failed extractor calls, labeled by provider, platform and error type.
	ExtractionFailures *prometheus.CounterVec

	// ExtractionDuration observes extractor call duration in seconds, labeled by provider.
	ExtractionDuration *prometheus.HistogramVec

	// ConsolidationCandidates observes the candidate count fed to one consolidation run.
	ConsolidationCandidates prometheus.Histogram

	// ConsolidationThemes observes the theme count produced by one consolidation run.
	ConsolidationThemes prometheus.Histogram

	// QuotesDropped counts quotes removed before persistence because no candidate contained them.
	QuotesDropped prometheus.Counter

	// SinkFailures counts swallowed alert/metric sink publish errors, labeled by kind.
	SinkFailures *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	durationBuckets := []float64{0.5, 1, 5, 10, 30, 60, 120, 180, 300}
	sizeBuckets := []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000}

	return &Metrics{
		ReportsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Total number of reports submitted",
		}),
		ReportTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_transitions_total",
			Help:      "Report status transitions applied",
		}, []string{"from", "to"}),
		TransitionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_transition_conflicts_total",
			Help:      "Conditional report updates that matched no rows",
		}, []string{"from", "to"}),
		ReportsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_completed_total",
			Help:      "Total number of reports completed",
		}),
		ReportsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_failed_total",
			Help:      "Total number of reports failed",
		}, []string{"stage"}),
		CompletionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_outcomes_total",
			Help:      "Report completion attempts by outcome",
		}, []string{"outcome"}),
		CompletionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_fallbacks_total",
			Help:      "Unconditional completed updates after a conditional miss",
		}),
		ForcedCompletions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraping_forced_completions_total",
			Help:      "Reports advanced past scraping because the wait threshold elapsed",
		}),
		ScrapingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scraping_duration_seconds",
			Help:      "Time from scraping start to scraping completion",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
		}),
		TasksEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Analysis tasks created",
		}),
		TasksClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_claimed_total",
			Help:      "Analysis tasks claimed for processing",
		}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Analysis tasks completed",
		}),
		TasksRetried: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Analysis task failures rescheduled with backoff",
		}),
		TasksFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Analysis tasks permanently failed",
		}),
		TasksLeaseExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_lease_expired_total",
			Help:      "Analysis task leases that expired before the worker reported back",
		}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Analysis task processing time",
			Buckets:   durationBuckets,
		}),
		ExtractionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_requests_total",
			Help:      "Theme extraction calls",
		}, []string{"provider", "platform"}),
		ExtractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Failed theme extraction calls",
		}, []string{"provider", "platform", "error_type"}),
		ExtractionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Theme extraction call duration",
			Buckets:   durationBuckets,
		}, []string{"provider"}),
		ConsolidationCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_candidates",
			Help:      "Candidates fed to one consolidation run",
			Buckets:   sizeBuckets,
		}),
		ConsolidationThemes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_themes",
			Help:      "Themes produced by one consolidation run",
			Buckets:   sizeBuckets,
		}),
		QuotesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_dropped_total",
			Help:      "Quotes without candidate provenance removed before persistence",
		}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Swallowed alert/metric sink publish errors",
		}, []string{"kind"}),
	}
}

// RecordReportSubmitted records a new report.
func (m *Metrics) RecordReportSubmitted() {
	if m == nil {
		return
	}
	m.ReportsSubmitted.Inc()
}

// RecordTransition records an applied report status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.ReportTransitions.WithLabelValues(from, to).Inc()
	if to == "completed" {
		m.ReportsCompleted.Inc()
	}
}

// RecordTransitionConflict records a conditional update that matched no rows.
func (m *Metrics) RecordTransitionConflict(from, to string) {
	if m == nil {
		return
	}
	m.TransitionConflicts.WithLabelValues(from, to).Inc()
}

// RecordReportFailed records a report failure at stage.
func (m *Metrics) RecordReportFailed(stage string) {
	if m == nil {
		return
	}
	m.ReportsFailed.WithLabelValues(stage).Inc()
}

// RecordCompletionOutcome records the outcome of a completion attempt.
func (m *Metrics) RecordCompletionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.CompletionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCompletionFallback records an unconditional completed update.
func (m *Metrics) RecordCompletionFallback() {
	if m == nil {
		return
	}
	m.CompletionFallbacks.Inc()
}

// RecordScrapingCompleted records the end of scraping for one report.
func (m *Metrics) RecordScrapingCompleted(forced bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if forced {
		m.ForcedCompletions.Inc()
	}
	m.ScrapingDuration.Observe(durationSeconds)
}

// RecordTasksEnqueued records newly created analysis tasks.
func (m *Metrics) RecordTasksEnqueued(count int) {
	if m == nil {
		return
	}
	m.TasksEnqueued.Add(float64(count))
}

// RecordTasksClaimed records tasks claimed by a dispatcher.
func (m *Metrics) RecordTasksClaimed(count int) {
	if m == nil {
		return
	}
	m.TasksClaimed.Add(float64(count))
}

// RecordTaskCompleted records a successful task.
func (m *Metrics) RecordTaskCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TasksCompleted.Inc()
	m.TaskDuration.Observe(durationSeconds)
}

// RecordTaskFailure records a failed task attempt; permanent reports whether the
// retry budget is exhausted.
func (m *Metrics) RecordTaskFailure(permanent bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if permanent {
		m.TasksFailed.Inc()
	} else {
		m.TasksRetried.Inc()
	}
	m.TaskDuration.Observe(durationSeconds)
}

// RecordTaskLeaseExpired records an expired lease, which counts as a failed
// attempt; permanent reports whether it exhausted the retry budget.
func (m *Metrics) RecordTaskLeaseExpired(permanent bool) {
	if m == nil {
		return
	}
	m.TasksLeaseExpired.Inc()
	if permanent {
		m.TasksFailed.Inc()
	} else {
		m.TasksRetried.Inc()
	}
}

// RecordExtraction records a successful extractor call.
func (m *Metrics) RecordExtraction(provider, platform string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExtractionRequests.WithLabelValues(provider, platform).Inc()
	m.ExtractionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordExtractionFailed records a failed extractor call.
func (m *Metrics) RecordExtractionFailed(provider, platform, errorType string) {
	if m == nil {
		return
	}
	m.ExtractionRequests.WithLabelValues(provider, platform).Inc()
	m.ExtractionFailures.WithLabelValues(provider, platform, errorType).Inc()
}

// RecordConsolidation records the input and output sizes of one engine run.
func (m *Metrics) RecordConsolidation(candidates, themes int) {
	if m == nil {
		return
	}
	m.ConsolidationCandidates.Observe(float64(candidates))
	m.ConsolidationThemes.Observe(float64(themes))
}

// RecordQuotesDropped records quotes removed for missing provenance.
func (m *Metrics) RecordQuotesDropped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.QuotesDropped.Add(float64(count))
}

// RecordSinkFailure records a swallowed sink publish error.
func (m *Metrics) RecordSinkFailure(kind string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(kind).Inc()
}
