// Package main provides the entry point for the review pipeline Temporal worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/happynocode/app-review-analysis/internal/alerting"
	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/database"
	"github.com/happynocode/app-review-analysis/internal/extraction"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/pipeline"
	"github.com/happynocode/app-review-analysis/internal/temporal"
	"github.com/happynocode/app-review-analysis/internal/temporal/activities"
	"github.com/happynocode/app-review-analysis/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("review pipeline worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	sink, err := alerting.NewSinkFromConfig(cfg.Kafka, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close alert sink")
		}
	}()

	extractor, err := extraction.NewFromConfig(cfg.Extraction, metrics)
	if err != nil {
		return fmt.Errorf("create theme extractor: %w", err)
	}
	logger.Info().
		Str("provider", extractor.Provider()).
		Str("model", extractor.Model()).
		Msg("theme extractor ready")

	svc := pipeline.NewServices(
		pipeline.NewRepositories(db),
		extractor,
		sink,
		cfg.Pipeline,
		cfg.Extraction.Timeout,
		metrics,
		logger,
	)

	temporalClient, err := temporal.NewClient(cfg.Temporal, logger)
	if err != nil {
		return fmt.Errorf("create temporal client: %w", err)
	}
	defer temporalClient.Close()

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = temporal.CheckHealth(healthCtx, temporalClient)
	cancel()
	if err != nil {
		return fmt.Errorf("temporal health check: %w", err)
	}

	workerCfg := temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue)
	workerCfg.MaxConcurrentActivityExecutionSize = max(workerCfg.MaxConcurrentActivityExecutionSize, cfg.Pipeline.Concurrency)

	manager, err := temporal.NewWorkerManager(temporalClient, workerCfg)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	manager.RegisterWorkflow(workflows.PipelineTickWorkflow)
	manager.RegisterActivity(activities.NewPipelineActivities(svc.Monitor, svc.Scheduler, svc.Completer))

	runID, err := temporal.EnsureTickWorkflow(
		ctx,
		temporalClient,
		temporal.TickScheduleFromConfig(cfg.Temporal),
		workflows.PipelineTickWorkflow,
		workflows.PipelineTickInput{},
	)
	if err != nil {
		return fmt.Errorf("ensure tick workflow: %w", err)
	}

	logger.Info().
		Str("task_queue", manager.TaskQueue()).
		Str("tick_workflow_id", cfg.Temporal.TickWorkflowID).
		Str("tick_run_id", runID).
		Str("tick_schedule", cfg.Temporal.TickSchedule).
		Msg("review pipeline worker is ready")

	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}

	logger.Info().Msg("review pipeline worker shutdown complete")
	return nil
}
