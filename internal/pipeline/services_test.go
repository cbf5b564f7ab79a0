package pipeline

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/extraction"
)

func TestNewServices(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := config.PipelineConfig{
		MaxScrapingWait:      10 * time.Minute,
		MonitorBatchLimit:    50,
		BatchSize:            100,
		DispatchLimit:        4,
		Concurrency:          2,
		PlatformConcurrency:  3,
		MaxRetries:           3,
		FailureThreshold:     0.5,
		TaskLease:            time.Minute,
		CompletionStaleAfter: 5 * time.Minute,
		MaxThemes:            20,
	}

	svc := NewServices(NewRepositories(mock), extraction.NewStaticProvider(), nil, cfg, 30*time.Second, nil, zerolog.Nop())

	require.NotNil(t, svc)
	assert.NotNil(t, svc.Coordinator)
	assert.NotNil(t, svc.Intake)
	assert.NotNil(t, svc.Monitor)
	assert.NotNil(t, svc.Completer)

	assert.Equal(t, 100, svc.Scheduler.cfg.BatchSize)
	assert.Equal(t, 4, svc.Scheduler.cfg.DispatchLimit)
	assert.Equal(t, time.Minute, svc.Scheduler.cfg.TaskLease)
	assert.Equal(t, 5*time.Minute, svc.Scheduler.cfg.CompletionStaleAfter)
	assert.Same(t, svc.Worker, svc.Scheduler.processor)
	assert.Equal(t, 30*time.Second, svc.Worker.cfg.ExtractionTimeout)
	assert.Equal(t, 10*time.Minute, svc.Monitor.cfg.MaxScrapingWait)
	assert.Equal(t, 20, svc.Completer.opts.MaxThemes)
	require.NoError(t, mock.ExpectationsWereMet())
}
