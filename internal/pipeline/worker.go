package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/extraction"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// WorkerConfig bounds extraction fan-out within one task.
type WorkerConfig struct {
	PlatformConcurrency int
	ExtractionTimeout   time.Duration
}

// Worker runs theme extraction for one analysis task.
type Worker struct {
	reports   repository.ReportRepository
	reviews   repository.ReviewRepository
	extractor extraction.ThemeExtractor
	cfg       WorkerConfig
	logger    zerolog.Logger
}

// NewWorker creates a Worker.
func NewWorker(
	reports repository.ReportRepository,
	reviews repository.ReviewRepository,
	extractor extraction.ThemeExtractor,
	cfg WorkerConfig,
	logger zerolog.Logger,
) *Worker {
	if cfg.PlatformConcurrency <= 0 {
		cfg.PlatformConcurrency = 3
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 150 * time.Second
	}
	return &Worker{
		reports:   reports,
		reviews:   reviews,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger.With().Str("component", "worker").Logger(),
	}
}

// Process loads the task's reviews, partitions them by platform and extracts
// themes for each partition in parallel. Every partition runs to the end; if
// any of them failed the task fails with all partition errors joined.
func (w *Worker) Process(ctx context.Context, task *domain.AnalysisTask) (domain.TaskResult, error) {
	report, err := w.reports.Get(ctx, task.ReportID)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", task.ReportID, err)
	}

	reviews, err := w.reviews.GetByIDs(ctx, task.ReviewIDs)
	if err != nil {
		return nil, fmt.Errorf("load reviews of task %s: %w", task.ID, err)
	}

	texts := make(map[domain.Platform][]string)
	for _, r := range reviews {
		texts[r.Platform] = append(texts[r.Platform], r.Text)
	}
	platforms := make([]domain.Platform, 0, len(texts))
	for p := range texts {
		platforms = append(platforms, p)
	}
	domain.SortPlatforms(platforms)

	candidates := make([][]domain.ThemeCandidate, len(platforms))
	errs := make([]error, len(platforms))

	g := new(errgroup.Group)
	g.SetLimit(w.cfg.PlatformConcurrency)
	for i, p := range platforms {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, w.cfg.ExtractionTimeout)
			defer cancel()

			res, err := w.extractor.ExtractThemes(callCtx, extraction.Request{
				AppName:     report.AppName,
				Platform:    p,
				ReviewTexts: texts[p],
			})
			if err != nil {
				errs[i] = fmt.Errorf("extract %s themes: %w", p, err)
				return nil
			}
			candidates[i] = res.Candidates
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	result := make(domain.TaskResult, len(platforms))
	for i, p := range platforms {
		tagged := make([]domain.ThemeCandidate, len(candidates[i]))
		for j, c := range candidates[i] {
			c.Platform = p
			tagged[j] = c
		}
		result[p] = tagged
	}

	w.logger.Debug().
		Str("task_id", task.ID.String()).
		Int("reviews", len(reviews)).
		Int("platforms", len(platforms)).
		Int("candidates", result.CandidateCount()).
		Msg("task processed")
	return result, nil
}
