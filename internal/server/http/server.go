// Package httpserver provides the HTTP API of the review analysis pipeline:
// report submission, scraper ingestion, stage triggers and report retrieval.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/happynocode/app-review-analysis/internal/database"
	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/pipeline"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// ReportIntake creates reports and accepts scraper output.
type ReportIntake interface {
	CreateReport(ctx context.Context, userID, appName string, platforms []domain.Platform) (*domain.Report, error)
	StartScraping(ctx context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error)
	IngestReviews(ctx context.Context, reportID uuid.UUID, reviews []*domain.Review) (int, error)
	UpdateScraperStatus(ctx context.Context, reportID uuid.UUID, platform domain.Platform, status domain.ScraperStatus) (*domain.ScrapingSession, error)
}

// AnalysisStarter hands a scraped report over to analysis.
type AnalysisStarter interface {
	StartAnalysis(ctx context.Context, reportID uuid.UUID) (pipeline.Readiness, error)
}

// ReportCompleter consolidates and completes a report.
type ReportCompleter interface {
	Complete(ctx context.Context, reportID uuid.UUID) (domain.CompletionOutcome, error)
}

// ReportReader reads reports.
type ReportReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Report, error)
	List(ctx context.Context, filter repository.ReportFilter) ([]*domain.Report, int64, error)
}

// SessionReader reads scraping sessions.
type SessionReader interface {
	GetActive(ctx context.Context, reportID uuid.UUID) (*domain.ScrapingSession, error)
}

// ThemeReader reads persisted themes.
type ThemeReader interface {
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*domain.Theme, error)
	CountByPlatform(ctx context.Context, reportID uuid.UUID) (map[domain.Platform]int, error)
}

// HealthChecker reports database reachability.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps are the collaborators the HTTP server delegates to.
type Deps struct {
	Intake    ReportIntake
	Analysis  AnalysisStarter
	Completer ReportCompleter
	Reports   ReportReader
	Sessions  SessionReader
	Themes    ThemeReader
	Health    HealthChecker

	// Metrics, when set, is served at Config.MetricsPath.
	Metrics http.Handler
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	cfg        Config
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		deps:     deps,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(s.accessLogMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.deps.Metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.deps.Metrics)
	}

	r.Route("/api/v1/reports", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Post("/", s.createReport)
		r.Get("/", s.listReports)

		r.Route("/{reportID}", func(r chi.Router) {
			r.Use(reportIDMiddleware)

			r.Get("/", s.getReport)
			r.Get("/themes", s.getReportThemes)
			r.Post("/reviews", s.ingestReviews)
			r.Put("/scraping/{platform}", s.updateScraperStatus)
			r.Post("/analyze", s.startAnalysis)
			r.Post("/complete", s.completeReport)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports ready only while the database answers pings.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	health := s.deps.Health.Health(r.Context())
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": health.Status,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
