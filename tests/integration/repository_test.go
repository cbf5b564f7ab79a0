//go:build integration

package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

func createReport(t *testing.T, reports *repository.PgReportRepository, platforms ...domain.Platform) *domain.Report {
	t.Helper()
	r := domain.NewReport("user-int", "Integration App", platforms)
	require.NoError(t, reports.Create(context.Background(), r))
	return r
}

func insertReviews(t *testing.T, reviews *repository.PgReviewRepository, reportID uuid.UUID, platform domain.Platform, n int) []uuid.UUID {
	t.Helper()
	batch := make([]*domain.Review, n)
	ids := make([]uuid.UUID, n)
	for i := range batch {
		ids[i] = uuid.New()
		batch[i] = &domain.Review{
			ID:        ids[i],
			ReportID:  reportID,
			Platform:  platform,
			Text:      "the app keeps crashing on launch",
			CreatedAt: time.Now().UTC(),
		}
	}
	inserted, err := reviews.InsertBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
	return ids
}

func TestReportTransition_SingleWinner(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	report := createReport(t, reports, domain.PlatformAppStore)

	const contenders = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reports.TransitionStatus(ctx, report.ID, domain.ReportStatusPending, domain.ReportStatusScraping)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := reports.Get(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusScraping, got.Status)
}

func TestReportReclaimStaleCompleting(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	stalled := createReport(t, reports, domain.PlatformAppStore)
	analyzing := createReport(t, reports, domain.PlatformAppStore)

	ok, err := reports.TransitionStatus(ctx, stalled.ID, domain.ReportStatusPending, domain.ReportStatusCompleting)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = reports.TransitionStatus(ctx, analyzing.ID, domain.ReportStatusPending, domain.ReportStatusAnalyzing)
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := reports.ReclaimStaleCompleting(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = reports.ReclaimStaleCompleting(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stalled.ID}, ids)

	got, err := reports.Get(ctx, stalled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusAnalyzing, got.Status)
}

func TestReportFail_OnlyFromNonTerminal(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	report := createReport(t, reports, domain.PlatformReddit)

	ok, err := reports.Fail(ctx, report.ID, domain.ReportStatusFailed, domain.FailureStageScraping, "no reviews")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reports.Fail(ctx, report.ID, domain.ReportStatusFailed, domain.FailureStageAnalysis, "again")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := reports.Get(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusFailed, got.Status)
	assert.Equal(t, domain.FailureStageScraping, got.FailureStage)
}

func TestSessionFindOrCreateActive_Idempotent(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	sessions := repository.NewPgSessionRepository(testPool)
	report := createReport(t, reports, domain.PlatformAppStore, domain.PlatformReddit)

	first, created, err := sessions.FindOrCreateActive(ctx, domain.NewScrapingSession(report.ID, report.Platforms))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := sessions.FindOrCreateActive(ctx, domain.NewScrapingSession(report.ID, report.Platforms))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	updated, err := sessions.UpdatePlatformStatus(ctx, report.ID, domain.PlatformReddit, domain.ScraperStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.ScraperStatusCompleted, updated.StatusOf(domain.PlatformReddit))
	assert.Equal(t, domain.ScraperStatusDisabled, updated.StatusOf(domain.PlatformGooglePlay))
}

func TestReviewInsertBatch_SkipsDuplicates(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	reviews := repository.NewPgReviewRepository(testPool)
	report := createReport(t, reports, domain.PlatformGooglePlay)

	ids := insertReviews(t, reviews, report.ID, domain.PlatformGooglePlay, 3)

	again := []*domain.Review{{
		ID: ids[0], ReportID: report.ID, Platform: domain.PlatformGooglePlay,
		Text: "duplicate delivery", CreatedAt: time.Now().UTC(),
	}}
	inserted, err := reviews.InsertBatch(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	counts, err := reviews.CountByPlatform(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.PlatformGooglePlay])
}

func TestTaskClaim_DisjointAndFenced(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	reports := repository.NewPgReportRepository(testPool)
	reviews := repository.NewPgReviewRepository(testPool)
	tasks := repository.NewPgTaskRepository(testPool)
	report := createReport(t, reports, domain.PlatformAppStore)
	reviewIDs := insertReviews(t, reviews, report.ID, domain.PlatformAppStore, 4)

	now := time.Now().UTC().Truncate(time.Microsecond)
	toEnqueue := make([]*domain.AnalysisTask, 4)
	for i := range toEnqueue {
		toEnqueue[i] = &domain.AnalysisTask{
			ID:          uuid.New(),
			ReportID:    report.ID,
			BatchIndex:  i,
			Priority:    len(toEnqueue) - i,
			ReviewIDs:   []uuid.UUID{reviewIDs[i]},
			Status:      domain.TaskStatusPending,
			MaxRetries:  3,
			AvailableAt: now.Add(-time.Second),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	inserted, err := tasks.Enqueue(ctx, toEnqueue)
	require.NoError(t, err)
	require.Equal(t, 4, inserted)

	inserted, err = tasks.Enqueue(ctx, toEnqueue)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "re-enqueue must not duplicate batches")

	t.Run("concurrent claims are disjoint", func(t *testing.T) {
		var (
			mu      sync.Mutex
			claimed = map[uuid.UUID]int{}
			wg      sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := tasks.Claim(ctx, now, time.Minute, 2)
				assert.NoError(t, err)
				mu.Lock()
				for _, task := range got {
					claimed[task.ID]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 4)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "task %s claimed more than once", id)
		}
	})

	t.Run("expired lease costs a retry and stale write is rejected", func(t *testing.T) {
		later := now.Add(2 * time.Minute)
		expired, err := tasks.ExpireLeases(ctx, later, 10)
		require.NoError(t, err)
		require.Len(t, expired, 4)
		for _, e := range expired {
			assert.Equal(t, report.ID, e.ReportID)
			assert.Equal(t, 1, e.RetryCount)
			assert.False(t, e.Failed)
		}

		none, err := tasks.Claim(ctx, later, time.Minute, 1)
		require.NoError(t, err)
		assert.Empty(t, none, "expired tasks wait out their backoff")

		later = later.Add(domain.RetryBackoff(0))
		reclaimed, err := tasks.Claim(ctx, later, time.Minute, 1)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		task := reclaimed[0]
		require.Equal(t, 2, task.Attempts)
		require.Equal(t, 1, task.RetryCount)

		ok, err := tasks.Complete(ctx, task.ID, task.Attempts-1, domain.TaskResult{}, later)
		require.NoError(t, err)
		assert.False(t, ok, "stale claim must not overwrite the newer lease")

		ok, err = tasks.Complete(ctx, task.ID, task.Attempts, domain.TaskResult{
			domain.PlatformAppStore: {{Title: "Crashes", Quotes: []string{"the app keeps crashing on launch"}}},
		}, later)
		require.NoError(t, err)
		assert.True(t, ok)

		counts, err := tasks.Counts(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Completed)
		assert.Equal(t, 3, counts.Pending)

		results, err := tasks.ListCompletedResults(ctx, report.ID)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Crashes", results[0][domain.PlatformAppStore][0].Title)
	})
}
