package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/extraction"
)

func taskFor(h *harness, r *domain.Report) *domain.AnalysisTask {
	ids, _ := memReviews{h.store}.ListIDsForBatching(context.Background(), r.ID)
	return &domain.AnalysisTask{ReportID: r.ID, ReviewIDs: ids}
}

func TestWorker_PartitionsByPlatform(t *testing.T) {
	h := newHarness(t)
	h.extractor.fn = func(req extraction.Request) (*extraction.Result, error) {
		return &extraction.Result{Candidates: []domain.ThemeCandidate{
			{Title: "Theme from " + req.Platform.DisplayName(), Quotes: req.ReviewTexts},
		}}, nil
	}

	r := h.store.addReport(domain.ReportStatusAnalyzing, domain.PlatformAppStore, domain.PlatformReddit)
	h.store.addReviews(r.ID, domain.PlatformReddit, "reddit one", "reddit two")
	h.store.addReviews(r.ID, domain.PlatformAppStore, "store one")

	result, err := h.worker.Process(context.Background(), taskFor(h, r))
	require.NoError(t, err)
	require.Len(t, result, 2)

	store := result[domain.PlatformAppStore]
	require.Len(t, store, 1)
	assert.Equal(t, domain.PlatformAppStore, store[0].Platform)
	assert.Equal(t, []string{"store one"}, store[0].Quotes)

	reddit := result[domain.PlatformReddit]
	require.Len(t, reddit, 1)
	assert.Equal(t, domain.PlatformReddit, reddit[0].Platform)
	assert.Equal(t, []string{"reddit one", "reddit two"}, reddit[0].Quotes)

	require.Equal(t, 2, h.extractor.callCount())
	for _, call := range h.extractor.calls {
		assert.Equal(t, "Acme Notes", call.AppName)
	}
}

func TestWorker_PartitionFailureFailsTask(t *testing.T) {
	h := newHarness(t)
	h.extractor.fn = func(req extraction.Request) (*extraction.Result, error) {
		if req.Platform == domain.PlatformGooglePlay {
			return nil, &extraction.ParseError{Provider: "scripted", Err: errors.New("no json")}
		}
		return &extraction.Result{}, nil
	}

	r := h.store.addReport(domain.ReportStatusAnalyzing, domain.PlatformAppStore, domain.PlatformGooglePlay)
	h.store.addReviews(r.ID, domain.PlatformAppStore, "a")
	h.store.addReviews(r.ID, domain.PlatformGooglePlay, "b")

	_, err := h.worker.Process(context.Background(), taskFor(h, r))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google_play")
	var parseErr *extraction.ParseError
	assert.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 2, h.extractor.callCount())
}

func TestWorker_EmptyPartitionKeepsPlatformKey(t *testing.T) {
	h := newHarness(t)
	h.extractor.fn = func(extraction.Request) (*extraction.Result, error) { return &extraction.Result{}, nil }

	r := h.store.addReport(domain.ReportStatusAnalyzing, domain.PlatformReddit)
	h.store.addReviews(r.ID, domain.PlatformReddit, "meh")

	result, err := h.worker.Process(context.Background(), taskFor(h, r))
	require.NoError(t, err)
	candidates, ok := result[domain.PlatformReddit]
	assert.True(t, ok)
	assert.Empty(t, candidates)
}
