package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/consolidation"
	"github.com/happynocode/app-review-analysis/internal/extraction"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// Repositories groups the stores the pipeline stages read and write.
type Repositories struct {
	Reports  *repository.PgReportRepository
	Sessions *repository.PgSessionRepository
	Reviews  *repository.PgReviewRepository
	Tasks    *repository.PgTaskRepository
	Themes   *repository.PgThemeRepository
}

// NewRepositories builds the PostgreSQL repositories on db.
func NewRepositories(db repository.DBTX) Repositories {
	return Repositories{
		Reports:  repository.NewPgReportRepository(db),
		Sessions: repository.NewPgSessionRepository(db),
		Reviews:  repository.NewPgReviewRepository(db),
		Tasks:    repository.NewPgTaskRepository(db),
		Themes:   repository.NewPgThemeRepository(db),
	}
}

// Services is the fully wired set of pipeline stages shared by the API
// server and the Temporal worker.
type Services struct {
	Repos       Repositories
	Coordinator *Coordinator
	Intake      *Intake
	Worker      *Worker
	Scheduler   *Scheduler
	Monitor     *Monitor
	Completer   *Completer
}

// NewServices wires every stage from configuration. extractionTimeout bounds
// one extraction call; sink and metrics may be nil.
func NewServices(
	repos Repositories,
	extractor extraction.ThemeExtractor,
	sink alerting.Sink,
	cfg config.PipelineConfig,
	extractionTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Services {
	coord := NewCoordinator(repos.Reports, sink, metrics, logger)

	worker := NewWorker(repos.Reports, repos.Reviews, extractor, WorkerConfig{
		PlatformConcurrency: cfg.PlatformConcurrency,
		ExtractionTimeout:   extractionTimeout,
	}, logger)

	scheduler := NewScheduler(coord, repos.Reports, repos.Reviews, repos.Tasks, worker, SchedulerConfig{
		BatchSize:            cfg.BatchSize,
		DispatchLimit:        cfg.DispatchLimit,
		Concurrency:          cfg.Concurrency,
		MaxRetries:           cfg.MaxRetries,
		FailureThreshold:     cfg.FailureThreshold,
		TaskLease:            cfg.TaskLease,
		CompletionStaleAfter: cfg.CompletionStaleAfter,
	}, metrics, logger)

	monitor := NewMonitor(coord, scheduler, repos.Reports, repos.Sessions, repos.Reviews, sink, MonitorConfig{
		MaxScrapingWait: cfg.MaxScrapingWait,
		BatchLimit:      cfg.MonitorBatchLimit,
	}, metrics, logger)

	completer := NewCompleter(coord, repos.Tasks, repos.Themes, sink, consolidation.Options{
		MaxThemes: cfg.MaxThemes,
	}, metrics, logger)

	return &Services{
		Repos:       repos,
		Coordinator: coord,
		Intake:      NewIntake(coord, repos.Reports, repos.Sessions, repos.Reviews, metrics, logger),
		Worker:      worker,
		Scheduler:   scheduler,
		Monitor:     monitor,
		Completer:   completer,
	}
}
