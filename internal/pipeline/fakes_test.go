package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/consolidation"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/extraction"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. Every
// conditional update runs under one mutex, mirroring row-level atomicity.
type memStore struct {
	mu       sync.Mutex
	reports  map[uuid.UUID]*domain.Report
	sessions map[uuid.UUID]*domain.ScrapingSession
	reviews  map[uuid.UUID]*domain.Review
	tasks    map[uuid.UUID]*domain.AnalysisTask
	themes   map[uuid.UUID][]*domain.Theme

	replaceCalls int
	replaceErr   error
}

func newMemStore() *memStore {
	return &memStore{
		reports:  make(map[uuid.UUID]*domain.Report),
		sessions: make(map[uuid.UUID]*domain.ScrapingSession),
		reviews:  make(map[uuid.UUID]*domain.Review),
		tasks:    make(map[uuid.UUID]*domain.AnalysisTask),
		themes:   make(map[uuid.UUID][]*domain.Theme),
	}
}

func (s *memStore) report(id uuid.UUID) domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reports[id]
}

func (s *memStore) taskList(reportID uuid.UUID) []domain.AnalysisTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AnalysisTask
	for _, t := range s.tasks {
		if t.ReportID == reportID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out
}

// addReport stores a report in status with the given platforms.
func (s *memStore) addReport(status domain.ReportStatus, platforms ...domain.Platform) *domain.Report {
	r := domain.NewReport("user-1", "Acme Notes", platforms)
	r.Status = status
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return r
}

func (s *memStore) addReviews(reportID uuid.UUID, platform domain.Platform, texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range texts {
		id := uuid.New()
		s.reviews[id] = &domain.Review{
			ID:        id,
			ReportID:  reportID,
			Platform:  platform,
			Text:      text,
			CreatedAt: base.Add(time.Duration(len(s.reviews)+i) * time.Second),
		}
	}
}

func (s *memStore) addTask(reportID uuid.UUID, index int, status domain.TaskStatus, result domain.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.tasks[id] = &domain.AnalysisTask{
		ID:         id,
		ReportID:   reportID,
		BatchIndex: index,
		Status:     status,
		Result:     result,
		MaxRetries: domain.DefaultMaxRetries,
	}
}

// touch sets a report's updated_at.
func (s *memStore) touch(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[id].UpdatedAt = at
}

type memReports struct{ *memStore }

var _ repository.ReportRepository = memReports{}

func (s memReports) Create(_ context.Context, r *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; ok {
		return domain.NewAlreadyExistsError("report", r.ID.String())
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s memReports) Get(_ context.Context, id uuid.UUID) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, domain.NewNotFoundError("report", id.String())
	}
	cp := *r
	return &cp, nil
}

func (s memReports) List(_ context.Context, _ repository.ReportFilter) ([]*domain.Report, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Report
	for _, r := range s.reports {
		cp := *r
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (s memReports) ListByStatus(_ context.Context, status domain.ReportStatus, limit int) ([]*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Report
	for _, r := range s.reports {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memReports) ListSettledAnalyzing(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, r := range s.reports {
		if r.Status != domain.ReportStatusAnalyzing {
			continue
		}
		open := false
		for _, t := range s.tasks {
			if t.ReportID == id && t.Status.IsOpen() {
				open = true
			}
		}
		if !open {
			out = append(out, id)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memReports) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.ReportStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	now := time.Now().UTC()
	r.UpdatedAt = now
	if to == domain.ReportStatusScraping && r.ScrapingStartedAt == nil {
		r.ScrapingStartedAt = &now
	}
	if to == domain.ReportStatusCompleted {
		r.CompletedAt = &now
	}
	return true, nil
}

func (s memReports) ReclaimStaleCompleting(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, r := range s.reports {
		if r.Status == domain.ReportStatusCompleting && r.UpdatedAt.Before(before) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if len(out) > limit {
		out = out[:limit]
	}
	now := time.Now().UTC()
	for _, id := range out {
		s.reports[id].Status = domain.ReportStatusAnalyzing
		s.reports[id].UpdatedAt = now
	}
	return out, nil
}

func (s memReports) ForceCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return domain.NewNotFoundError("report", id.String())
	}
	r.Status = domain.ReportStatusCompleted
	return nil
}

func (s memReports) Fail(_ context.Context, id uuid.UUID, status domain.ReportStatus, stage domain.FailureStage, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok || r.Status.IsTerminal() {
		return false, nil
	}
	r.Status = status
	r.FailureStage = stage
	r.ErrorMessage = message
	return true, nil
}

var errStoreUnavailable = errors.New("store unavailable")

// flakyReports fails the next transition into failTo once, before it is
// applied. ForceCompleted fails with forceErr when one is set.
type flakyReports struct {
	memReports
	failTo   domain.ReportStatus
	armed    atomic.Bool
	forceErr error
}

var _ repository.ReportRepository = (*flakyReports)(nil)

func newFlakyReports(store *memStore, failTo domain.ReportStatus) *flakyReports {
	f := &flakyReports{memReports: memReports{store}, failTo: failTo}
	f.armed.Store(true)
	return f
}

func (f *flakyReports) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.ReportStatus) (bool, error) {
	if to == f.failTo && f.armed.CompareAndSwap(true, false) {
		return false, errStoreUnavailable
	}
	return f.memReports.TransitionStatus(ctx, id, from, to)
}

func (f *flakyReports) ForceCompleted(ctx context.Context, id uuid.UUID) error {
	if f.forceErr != nil {
		return f.forceErr
	}
	return f.memReports.ForceCompleted(ctx, id)
}

type memSessions struct{ *memStore }

var _ repository.SessionRepository = memSessions{}

func (s memSessions) FindOrCreateActive(_ context.Context, session *domain.ScrapingSession) (*domain.ScrapingSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.ReportID]; ok && existing.IsActive() {
		cp := *existing
		return &cp, false, nil
	}
	cp := *session
	s.sessions[session.ReportID] = &cp
	out := cp
	return &out, true, nil
}

func (s memSessions) GetActive(_ context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[reportID]
	if !ok || !existing.IsActive() {
		return nil, domain.NewNotFoundError("scraping session", reportID.String())
	}
	cp := *existing
	return &cp, nil
}

func (s memSessions) UpdatePlatformStatus(_ context.Context, reportID uuid.UUID, platform domain.Platform, status domain.ScraperStatus) (*domain.ScrapingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[reportID]
	if !ok || !existing.IsActive() {
		return nil, domain.NewNotFoundError("scraping session", reportID.String())
	}
	statuses := make(map[domain.Platform]domain.ScraperStatus, len(existing.Statuses))
	for k, v := range existing.Statuses {
		statuses[k] = v
	}
	statuses[platform] = status
	existing.Statuses = statuses
	cp := *existing
	return &cp, nil
}

func (s memSessions) Complete(_ context.Context, sessionID uuid.UUID, totalReviews int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == sessionID && sess.IsActive() {
			now := time.Now().UTC()
			sess.CompletedAt = &now
			sess.TotalReviews = totalReviews
			return true, nil
		}
	}
	return false, nil
}

// setSession stores an active session with explicit scraper statuses.
func (s *memStore) setSession(reportID uuid.UUID, statuses map[domain.Platform]domain.ScraperStatus) *domain.ScrapingSession {
	var enabled []domain.Platform
	for p, st := range statuses {
		if st != domain.ScraperStatusDisabled {
			enabled = append(enabled, p)
		}
	}
	session := domain.NewScrapingSession(reportID, enabled)
	for p, st := range statuses {
		session.Statuses[p] = st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[reportID] = session
	return session
}

type memReviews struct{ *memStore }

var _ repository.ReviewRepository = memReviews{}

func (s memReviews) InsertBatch(_ context.Context, reviews []*domain.Review) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range reviews {
		if _, ok := s.reviews[r.ID]; ok {
			continue
		}
		cp := *r
		s.reviews[r.ID] = &cp
		n++
	}
	return n, nil
}

func (s memReviews) sorted(reportID uuid.UUID) []*domain.Review {
	var out []*domain.Review
	for _, r := range s.reviews {
		if r.ReportID == reportID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s memReviews) ListIDsForBatching(_ context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, r := range s.sorted(reportID) {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s memReviews) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Review
	for _, id := range ids {
		if r, ok := s.reviews[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s memReviews) CountByPlatform(_ context.Context, reportID uuid.UUID) (map[domain.Platform]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Platform]int)
	for _, r := range s.reviews {
		if r.ReportID == reportID {
			counts[r.Platform]++
		}
	}
	return counts, nil
}

type memTasks struct{ *memStore }

var _ repository.TaskRepository = memTasks{}

func (s memTasks) Enqueue(_ context.Context, tasks []*domain.AnalysisTask) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range tasks {
		dup := false
		for _, existing := range s.tasks {
			if existing.ReportID == t.ReportID && existing.BatchIndex == t.BatchIndex {
				dup = true
			}
		}
		if dup {
			continue
		}
		cp := *t
		s.tasks[t.ID] = &cp
		n++
	}
	return n, nil
}

func (s memTasks) Claim(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var eligible []*domain.AnalysisTask
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending && !t.AvailableAt.After(now) {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*domain.AnalysisTask, 0, len(eligible))
	for _, t := range eligible {
		t.Status = domain.TaskStatusProcessing
		t.Attempts++
		t.AvailableAt = now.Add(lease)
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s memTasks) ExpireLeases(_ context.Context, now time.Time, limit int) ([]repository.ExpiredTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*domain.AnalysisTask
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusProcessing && !t.AvailableAt.After(now) {
			expired = append(expired, t)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID.String() < expired[j].ID.String() })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	out := make([]repository.ExpiredTask, 0, len(expired))
	for _, t := range expired {
		backoff := domain.RetryBackoff(t.RetryCount)
		t.RetryCount++
		t.ErrorMessage = "lease expired before the task finished"
		if t.RetryCount >= t.MaxRetries {
			t.Status = domain.TaskStatusFailed
		} else {
			t.Status = domain.TaskStatusPending
			t.AvailableAt = now.Add(backoff)
		}
		out = append(out, repository.ExpiredTask{
			ID:         t.ID,
			ReportID:   t.ReportID,
			RetryCount: t.RetryCount,
			Failed:     t.Status == domain.TaskStatusFailed,
		})
	}
	return out, nil
}

func (s memTasks) fenced(id uuid.UUID, attempts int) *domain.AnalysisTask {
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusProcessing || t.Attempts != attempts {
		return nil
	}
	return t
}

func (s memTasks) Complete(_ context.Context, id uuid.UUID, attempts int, result domain.TaskResult, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.fenced(id, attempts)
	if t == nil {
		return false, nil
	}
	t.Status = domain.TaskStatusCompleted
	t.Result = result
	return true, nil
}

func (s memTasks) Reschedule(_ context.Context, id uuid.UUID, attempts, retryCount int, availableAt time.Time, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.fenced(id, attempts)
	if t == nil {
		return false, nil
	}
	t.Status = domain.TaskStatusPending
	t.RetryCount = retryCount
	t.AvailableAt = availableAt
	t.ErrorMessage = message
	return true, nil
}

func (s memTasks) MarkFailed(_ context.Context, id uuid.UUID, attempts, retryCount int, message string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.fenced(id, attempts)
	if t == nil {
		return false, nil
	}
	t.Status = domain.TaskStatusFailed
	t.RetryCount = retryCount
	t.ErrorMessage = message
	return true, nil
}

func (s memTasks) Counts(_ context.Context, reportID uuid.UUID) (domain.TaskCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c domain.TaskCounts
	for _, t := range s.tasks {
		if t.ReportID != reportID {
			continue
		}
		switch t.Status {
		case domain.TaskStatusPending:
			c.Pending++
		case domain.TaskStatusProcessing:
			c.Processing++
		case domain.TaskStatusCompleted:
			c.Completed++
		case domain.TaskStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s memTasks) ListCompletedResults(_ context.Context, reportID uuid.UUID) ([]domain.TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var done []*domain.AnalysisTask
	for _, t := range s.tasks {
		if t.ReportID == reportID && t.Status == domain.TaskStatusCompleted {
			done = append(done, t)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].BatchIndex < done[j].BatchIndex })
	out := make([]domain.TaskResult, 0, len(done))
	for _, t := range done {
		out = append(out, t.Result)
	}
	return out, nil
}

type memThemes struct{ *memStore }

var _ repository.ThemeRepository = memThemes{}

func (s memThemes) ReplaceForReport(_ context.Context, reportID uuid.UUID, themes []*domain.Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.themes[reportID] = themes
	return nil
}

func (s memThemes) ListByReport(_ context.Context, reportID uuid.UUID) ([]*domain.Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.themes[reportID], nil
}

func (s memThemes) CountByPlatform(_ context.Context, reportID uuid.UUID) (map[domain.Platform]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Platform]int)
	for _, th := range s.themes[reportID] {
		counts[th.Platform]++
	}
	return counts, nil
}

// recordingSink keeps every alert it receives.
type recordingSink struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (r *recordingSink) EmitMetric(context.Context, alerting.Metric) {}

func (r *recordingSink) RaiseAlert(_ context.Context, a alerting.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}

// scriptedExtractor answers extraction calls with fn.
type scriptedExtractor struct {
	mu    sync.Mutex
	calls []extraction.Request
	fn    func(extraction.Request) (*extraction.Result, error)
}

func (e *scriptedExtractor) ExtractThemes(_ context.Context, req extraction.Request) (*extraction.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()
	return e.fn(req)
}

func (e *scriptedExtractor) Provider() string { return "scripted" }
func (e *scriptedExtractor) Model() string    { return "scripted-1" }

func (e *scriptedExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

var errExtraction = errors.New("extractor unavailable")

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires the pipeline over a memStore.
type harness struct {
	store     *memStore
	sink      *recordingSink
	metrics   *observability.Metrics
	clock     *clock
	extractor *scriptedExtractor
	coord     *Coordinator
	intake    *Intake
	worker    *Worker
	scheduler *Scheduler
	monitor   *Monitor
	completer *Completer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	sink := &recordingSink{}
	metrics := observability.NewMetricsWithRegistry("pipeline_test", prometheus.NewRegistry())
	clk := newClock()
	logger := zerolog.Nop()

	ex := &scriptedExtractor{fn: func(req extraction.Request) (*extraction.Result, error) {
		return extraction.NewStaticProvider().ExtractThemes(context.Background(), req)
	}}

	h := &harness{store: store, sink: sink, metrics: metrics, clock: clk, extractor: ex}
	h.coord = NewCoordinator(memReports{store}, sink, metrics, logger)
	h.intake = NewIntake(h.coord, memReports{store}, memSessions{store}, memReviews{store}, metrics, logger)
	h.intake.now = clk.Now
	h.worker = NewWorker(memReports{store}, memReviews{store}, ex, WorkerConfig{ExtractionTimeout: time.Second}, logger)
	h.scheduler = NewScheduler(h.coord, memReports{store}, memReviews{store}, memTasks{store}, h.worker,
		SchedulerConfig{BatchSize: 2, DispatchLimit: 10, Concurrency: 4, TaskLease: time.Minute}, metrics, logger)
	h.scheduler.now = clk.Now
	h.monitor = NewMonitor(h.coord, h.scheduler, memReports{store}, memSessions{store}, memReviews{store}, sink,
		MonitorConfig{MaxScrapingWait: 15 * time.Minute}, metrics, logger)
	h.monitor.now = clk.Now
	h.completer = NewCompleter(h.coord, memTasks{store}, memThemes{store}, sink, consolidation.Options{}, metrics, logger)
	h.completer.now = clk.Now
	return h
}

// scrapingReport adds a report in scraping that started at the harness clock.
func (h *harness) scrapingReport(platforms ...domain.Platform) *domain.Report {
	r := h.store.addReport(domain.ReportStatusScraping, platforms...)
	started := h.clock.Now()
	h.store.mu.Lock()
	h.store.reports[r.ID].ScrapingStartedAt = &started
	h.store.mu.Unlock()
	return r
}
