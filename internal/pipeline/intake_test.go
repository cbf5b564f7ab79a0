package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

func TestIntake_CreateReport(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		appName   string
		platforms []domain.Platform
		wantErr   bool
	}{
		{name: "valid", appName: " Acme Notes ", platforms: []domain.Platform{domain.PlatformReddit, domain.PlatformAppStore, domain.PlatformReddit}},
		{name: "empty app name", appName: "  ", platforms: []domain.Platform{domain.PlatformReddit}, wantErr: true},
		{name: "no platforms", appName: "Acme", wantErr: true},
		{name: "unknown platform", appName: "Acme", platforms: []domain.Platform{"steam"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			report, err := h.intake.CreateReport(ctx, "user-1", tt.appName, tt.platforms)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Acme Notes", report.AppName)
			assert.Equal(t, domain.ReportStatusPending, report.Status)
			assert.Equal(t, []domain.Platform{domain.PlatformAppStore, domain.PlatformReddit}, report.Platforms)
			assert.Equal(t, domain.ReportStatusPending, h.store.report(report.ID).Status)
		})
	}
}

func TestIntake_StartScraping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := h.store.addReport(domain.ReportStatusPending, domain.PlatformAppStore, domain.PlatformGooglePlay)

	session, err := h.intake.StartScraping(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusScraping, h.store.report(r.ID).Status)
	assert.Equal(t, domain.ScraperStatusPending, session.StatusOf(domain.PlatformAppStore))
	assert.Equal(t, domain.ScraperStatusDisabled, session.StatusOf(domain.PlatformReddit))

	again, err := h.intake.StartScraping(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)

	done := h.store.addReport(domain.ReportStatusCompleted, domain.PlatformAppStore)
	_, err = h.intake.StartScraping(ctx, done.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.intake.StartScraping(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIntake_IngestReviews(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := h.store.addReport(domain.ReportStatusScraping, domain.PlatformAppStore)

	n, err := h.intake.IngestReviews(ctx, r.ID, []*domain.Review{
		{Platform: domain.PlatformAppStore, Text: "Love it"},
		{Platform: domain.PlatformAppStore, Text: "Crashes daily"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := memReviews{h.store}.CountByPlatform(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Platform]int{domain.PlatformAppStore: 2}, counts)

	_, err = h.intake.IngestReviews(ctx, r.ID, []*domain.Review{{Platform: domain.PlatformReddit, Text: "hi"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.intake.IngestReviews(ctx, r.ID, []*domain.Review{{Platform: domain.PlatformAppStore, Text: " "}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	id := uuid.New()
	resend := []*domain.Review{{ID: id, Platform: domain.PlatformAppStore, Text: "Same page"}}
	n, err = h.intake.IngestReviews(ctx, r.ID, resend)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.intake.IngestReviews(ctx, r.ID, resend)
	require.NoError(t, err)
	assert.Zero(t, n)

	late := h.store.addReport(domain.ReportStatusAnalyzing, domain.PlatformAppStore)
	_, err = h.intake.IngestReviews(ctx, late.ID, []*domain.Review{{Platform: domain.PlatformAppStore, Text: "late"}})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestIntake_UpdateScraperStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := h.store.addReport(domain.ReportStatusScraping, domain.PlatformAppStore)
	h.store.setSession(r.ID, map[domain.Platform]domain.ScraperStatus{
		domain.PlatformAppStore: domain.ScraperStatusPending,
		domain.PlatformReddit:   domain.ScraperStatusDisabled,
	})

	session, err := h.intake.UpdateScraperStatus(ctx, r.ID, domain.PlatformAppStore, domain.ScraperStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, domain.ScraperStatusRunning, session.StatusOf(domain.PlatformAppStore))

	_, err = h.intake.UpdateScraperStatus(ctx, r.ID, domain.PlatformReddit, domain.ScraperStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.intake.UpdateScraperStatus(ctx, r.ID, domain.PlatformAppStore, domain.ScraperStatusDisabled)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.intake.UpdateScraperStatus(ctx, uuid.New(), domain.PlatformAppStore, domain.ScraperStatusRunning)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
