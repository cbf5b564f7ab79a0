package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// Processor turns one claimed task into theme candidates.
type Processor interface {
	Process(ctx context.Context, task *domain.AnalysisTask) (domain.TaskResult, error)
}

// SchedulerConfig tunes batching, dispatch and retries.
type SchedulerConfig struct {
	BatchSize        int
	DispatchLimit    int
	Concurrency      int
	MaxRetries       int
	FailureThreshold float64
	TaskLease        time.Duration
	// SweepLimit caps the analyzing reports re-evaluated per dispatch, and
	// the expired leases and stalled completions settled per dispatch.
	SweepLimit int
	// CompletionStaleAfter is how long a report may sit in completing before
	// its completion is re-opened.
	CompletionStaleAfter time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:        200,
		DispatchLimit:    6,
		Concurrency:      6,
		MaxRetries:       domain.DefaultMaxRetries,
		FailureThreshold: 0.5,
		TaskLease:        5 * time.Minute,
		SweepLimit:       100,

		CompletionStaleAfter: 10 * time.Minute,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.DispatchLimit <= 0 {
		c.DispatchLimit = d.DispatchLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.TaskLease <= 0 {
		c.TaskLease = d.TaskLease
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = d.SweepLimit
	}
	if c.CompletionStaleAfter <= 0 {
		c.CompletionStaleAfter = d.CompletionStaleAfter
	}
	return c
}

// DispatchResult summarises one dispatch call.
type DispatchResult struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	// Stale counts tasks whose outcome was discarded because their lease had
	// been reclaimed by another dispatcher.
	Stale int
	// Expired counts processing tasks whose lease ran out before this call.
	// Each counts as a failed attempt.
	Expired int
	// Reclaimed lists reports whose stalled completion was re-opened.
	Reclaimed []uuid.UUID
	// Ready lists reports whose tasks are all settled and that passed the
	// failure threshold, in ID order.
	Ready []uuid.UUID
	// FailedReports lists reports failed at the analysis stage by this call.
	FailedReports []uuid.UUID
}

// Readiness is the verdict of evaluating a report's tasks.
type Readiness string

const (
	ReadinessPending Readiness = "pending"
	ReadinessReady   Readiness = "ready"
	ReadinessFailed  Readiness = "failed"
	// ReadinessSkipped means the report is not analyzing anymore.
	ReadinessSkipped Readiness = "skipped"
)

type taskOutcome int

const (
	outcomeCompleted taskOutcome = iota
	outcomeRetried
	outcomeFailed
	outcomeStale
	outcomeError
)

// Scheduler cuts reports into analysis tasks and runs claimed tasks.
type Scheduler struct {
	coord     *Coordinator
	reports   repository.ReportRepository
	reviews   repository.ReviewRepository
	tasks     repository.TaskRepository
	processor Processor
	cfg       SchedulerConfig
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	coord *Coordinator,
	reports repository.ReportRepository,
	reviews repository.ReviewRepository,
	tasks repository.TaskRepository,
	processor Processor,
	cfg SchedulerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		coord:     coord,
		reports:   reports,
		reviews:   reviews,
		tasks:     tasks,
		processor: processor,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartAnalysis hands a report whose scraping is over to analysis: it
// enqueues the batches and moves scraping_completed -> analyzing. A report
// without any review is failed at the scraping stage instead. Calling it for
// a report that is already analyzing is a no-op.
func (s *Scheduler) StartAnalysis(ctx context.Context, reportID uuid.UUID) (Readiness, error) {
	report, err := s.reports.Get(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("load report %s: %w", reportID, err)
	}
	switch report.Status {
	case domain.ReportStatusScrapingCompleted:
	case domain.ReportStatusAnalyzing:
		return ReadinessPending, nil
	default:
		return "", fmt.Errorf("%w: report %s is %s, not ready for analysis", domain.ErrConflict, reportID, report.Status)
	}

	counts, err := s.reviews.CountByPlatform(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("count reviews for report %s: %w", reportID, err)
	}
	if sumCounts(counts) == 0 {
		msg := "no reviews were collected from any enabled platform"
		if err := s.coord.Fail(ctx, reportID, domain.FailureStageScraping, msg); err != nil {
			return "", err
		}
		return ReadinessFailed, nil
	}

	if _, err := s.EnqueueBatches(ctx, reportID); err != nil {
		return "", err
	}
	if _, err := s.coord.Transition(ctx, reportID, domain.ReportStatusScrapingCompleted, domain.ReportStatusAnalyzing); err != nil {
		return "", err
	}
	return ReadinessPending, nil
}

// EnqueueBatches splits the report's reviews into fixed-size batches and
// stores one pending task per batch. Batches that already exist are left
// untouched, so the call is idempotent. Returns the number of new tasks.
func (s *Scheduler) EnqueueBatches(ctx context.Context, reportID uuid.UUID) (int, error) {
	ids, err := s.reviews.ListIDsForBatching(ctx, reportID)
	if err != nil {
		return 0, fmt.Errorf("list reviews for report %s: %w", reportID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batchCount := (len(ids) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	now := s.now()
	tasks := make([]*domain.AnalysisTask, 0, batchCount)
	for i := 0; i < batchCount; i++ {
		end := min((i+1)*s.cfg.BatchSize, len(ids))
		batch := make([]uuid.UUID, end-i*s.cfg.BatchSize)
		copy(batch, ids[i*s.cfg.BatchSize:end])
		tasks = append(tasks, &domain.AnalysisTask{
			ID:          uuid.New(),
			ReportID:    reportID,
			BatchIndex:  i,
			Priority:    batchCount - i,
			ReviewIDs:   batch,
			Status:      domain.TaskStatusPending,
			MaxRetries:  s.cfg.MaxRetries,
			AvailableAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	n, err := s.tasks.Enqueue(ctx, tasks)
	if err != nil {
		return 0, fmt.Errorf("enqueue tasks for report %s: %w", reportID, err)
	}
	s.metrics.RecordTasksEnqueued(n)
	s.logger.Info().
		Str("report_id", reportID.String()).
		Int("reviews", len(ids)).
		Int("batches", batchCount).
		Int("inserted", n).
		Msg("analysis batches enqueued")
	return n, nil
}

// Dispatch settles expired leases, claims eligible tasks, processes them with
// bounded parallelism and evaluates every report they belong to. One task
// failing never aborts its siblings. Settled analyzing reports that nobody
// evaluated, for example after a crash, are picked up as well, and so are
// completions that stalled in completing.
func (s *Scheduler) Dispatch(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult
	affected := make(map[uuid.UUID]struct{})

	expired, err := s.tasks.ExpireLeases(ctx, s.now(), s.cfg.SweepLimit)
	if err != nil {
		return result, fmt.Errorf("expire task leases: %w", err)
	}
	result.Expired = len(expired)
	for _, e := range expired {
		s.metrics.RecordTaskLeaseExpired(e.Failed)
		s.logger.Warn().
			Str("task_id", e.ID.String()).
			Str("report_id", e.ReportID.String()).
			Int("retry_count", e.RetryCount).
			Bool("permanent", e.Failed).
			Msg("task lease expired")
		affected[e.ReportID] = struct{}{}
	}

	claimed, err := s.tasks.Claim(ctx, s.now(), s.cfg.TaskLease, s.cfg.DispatchLimit)
	if err != nil {
		return result, fmt.Errorf("claim tasks: %w", err)
	}
	result.Claimed = len(claimed)
	s.metrics.RecordTasksClaimed(len(claimed))

	outcomes := make([]taskOutcome, len(claimed))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i, task := range claimed {
		g.Go(func() error {
			outcomes[i] = s.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch o {
		case outcomeCompleted:
			result.Completed++
		case outcomeRetried:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		case outcomeStale:
			result.Stale++
		}
		affected[claimed[i].ReportID] = struct{}{}
	}

	reclaimed, err := s.coord.ReclaimStalledCompletions(ctx, s.now().Add(-s.cfg.CompletionStaleAfter), s.cfg.SweepLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reclaiming stalled completions failed")
	}
	result.Reclaimed = reclaimed
	for _, id := range reclaimed {
		affected[id] = struct{}{}
	}

	settled, err := s.reports.ListSettledAnalyzing(ctx, s.cfg.SweepLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing settled analyzing reports failed")
	}
	for _, id := range settled {
		affected[id] = struct{}{}
	}

	for _, id := range sortedIDs(affected) {
		readiness, err := s.Evaluate(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("report_id", id.String()).Msg("report evaluation failed")
			continue
		}
		switch readiness {
		case ReadinessReady:
			result.Ready = append(result.Ready, id)
		case ReadinessFailed:
			result.FailedReports = append(result.FailedReports, id)
		}
	}

	if result.Claimed > 0 || result.Expired > 0 || len(result.Ready) > 0 {
		s.logger.Info().
			Int("expired", result.Expired).
			Int("reclaimed_reports", len(result.Reclaimed)).
			Int("claimed", result.Claimed).
			Int("completed", result.Completed).
			Int("retried", result.Retried).
			Int("failed", result.Failed).
			Int("stale", result.Stale).
			Int("ready_reports", len(result.Ready)).
			Int("failed_reports", len(result.FailedReports)).
			Msg("dispatch finished")
	}
	return result, nil
}

// runTask processes one claimed task and records its outcome with writes
// fenced on the claim's attempts value.
func (s *Scheduler) runTask(ctx context.Context, task *domain.AnalysisTask) taskOutcome {
	logger := observability.WithTaskContext(s.logger, task.ID.String(), task.BatchIndex, task.Attempts).
		With().Str("report_id", task.ReportID.String()).Logger()
	start := time.Now()

	result, procErr := s.processor.Process(ctx, task)
	elapsed := time.Since(start).Seconds()

	if procErr == nil {
		ok, err := s.tasks.Complete(ctx, task.ID, task.Attempts, result, s.now())
		if err != nil {
			logger.Error().Err(err).Msg("storing task result failed")
			return outcomeError
		}
		if !ok {
			logger.Warn().Msg("task lease was reclaimed, result discarded")
			return outcomeStale
		}
		s.metrics.RecordTaskCompleted(elapsed)
		logger.Debug().Int("candidates", result.CandidateCount()).Msg("task completed")
		return outcomeCompleted
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}
	retryCount := task.RetryCount + 1
	msg := procErr.Error()

	if retryCount < maxRetries {
		availableAt := s.now().Add(domain.RetryBackoff(task.RetryCount))
		ok, err := s.tasks.Reschedule(ctx, task.ID, task.Attempts, retryCount, availableAt, msg)
		if err != nil {
			logger.Error().Err(err).Msg("rescheduling task failed")
			return outcomeError
		}
		if !ok {
			return outcomeStale
		}
		s.metrics.RecordTaskFailure(false, elapsed)
		logger.Warn().Err(procErr).
			Int("retry_count", retryCount).
			Time("available_at", availableAt).
			Msg("task failed, rescheduled")
		return outcomeRetried
	}

	ok, err := s.tasks.MarkFailed(ctx, task.ID, task.Attempts, retryCount, msg, s.now())
	if err != nil {
		logger.Error().Err(err).Msg("marking task failed failed")
		return outcomeError
	}
	if !ok {
		return outcomeStale
	}
	s.metrics.RecordTaskFailure(true, elapsed)
	logger.Error().Err(procErr).Int("retry_count", retryCount).Msg("task permanently failed")
	return outcomeFailed
}

// Evaluate decides what happens to an analyzing report. While tasks are
// open it stays pending. Once all are settled the report fails when the
// share of permanently failed tasks exceeds the threshold or no task
// completed; otherwise it is ready for completion.
func (s *Scheduler) Evaluate(ctx context.Context, reportID uuid.UUID) (Readiness, error) {
	report, err := s.reports.Get(ctx, reportID)
	if err != nil {
		if isNotFound(err) {
			return ReadinessSkipped, nil
		}
		return "", fmt.Errorf("load report %s: %w", reportID, err)
	}
	if report.Status != domain.ReportStatusAnalyzing {
		return ReadinessSkipped, nil
	}

	counts, err := s.tasks.Counts(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("count tasks for report %s: %w", reportID, err)
	}
	if counts.Open() > 0 {
		return ReadinessPending, nil
	}

	if counts.Completed == 0 || counts.FailureRatio() > s.cfg.FailureThreshold {
		msg := fmt.Sprintf("analysis failed: %d of %d batches failed permanently", counts.Failed, counts.Total())
		if counts.Completed == 0 {
			msg = fmt.Sprintf("analysis failed: none of %d batches completed", counts.Total())
		}
		if err := s.coord.Fail(ctx, reportID, domain.FailureStageAnalysis, msg); err != nil {
			return "", err
		}
		return ReadinessFailed, nil
	}
	return ReadinessReady, nil
}

func sumCounts(counts map[domain.Platform]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
