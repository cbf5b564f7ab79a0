package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/observability"
	"github.com/happynocode/app-review-analysis/internal/repository"
)

// maxRequestBodySize caps request bodies; review pages are the largest payloads.
const maxRequestBodySize = 8 << 20

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and returns false on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// writeDomainError maps domain errors to HTTP status codes. Unclassified
// errors are logged and reported as 500 without their message.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoCompletedTasks):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger := observability.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// createReport handles POST /api/v1/reports. It creates the report and opens
// its scraping session.
func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	platforms := make([]domain.Platform, len(req.Platforms))
	for i, p := range req.Platforms {
		platforms[i] = domain.Platform(p)
	}

	report, err := s.deps.Intake.CreateReport(r.Context(), req.UserID, req.AppName, platforms)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	session, err := s.deps.Intake.StartScraping(r.Context(), report.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	report.Status = domain.ReportStatusScraping

	writeJSON(w, http.StatusCreated, createReportResponse{
		Report:  domainReportToResponse(report),
		Session: domainSessionToResponse(session),
	})
}

// listReports handles GET /api/v1/reports.
func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ReportFilter{
		UserID:  q.Get("user_id"),
		AppName: q.Get("app_name"),
	}
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filter.Status = append(filter.Status, domain.ReportStatus(strings.TrimSpace(st)))
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}
	if err := filter.Validate(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	reports, total, err := s.deps.Reports.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := listReportsResponse{Reports: make([]reportResponse, len(reports)), TotalCount: total}
	for i, rep := range reports {
		resp.Reports[i] = domainReportToResponse(rep)
	}
	writeJSON(w, http.StatusOK, resp)
}

// getReport handles GET /api/v1/reports/{reportID}: the report, its scraping
// session when one exists, and per-platform theme counts.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := reportIDFromContext(ctx)

	report, err := s.deps.Reports.Get(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := reportDetailResponse{
		Report:      domainReportToResponse(report),
		ThemeCounts: make(map[string]int),
	}

	session, err := s.deps.Sessions.GetActive(ctx, id)
	switch {
	case err == nil:
		sr := domainSessionToResponse(session)
		resp.Session = &sr
	case !errors.Is(err, domain.ErrNotFound):
		s.writeDomainError(w, r, err)
		return
	}

	counts, err := s.deps.Themes.CountByPlatform(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	for p, n := range counts {
		resp.ThemeCounts[string(p)] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

// getReportThemes handles GET /api/v1/reports/{reportID}/themes. An optional
// platform query parameter narrows the result.
func (s *Server) getReportThemes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := reportIDFromContext(ctx)

	platform := domain.Platform(r.URL.Query().Get("platform"))
	if platform != "" && !platform.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid platform")
		return
	}

	if _, err := s.deps.Reports.Get(ctx, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	themes, err := s.deps.Themes.ListByReport(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := themesResponse{ReportID: id.String(), Themes: make([]themeResponse, 0, len(themes))}
	for _, t := range themes {
		if platform != "" && t.Platform != platform {
			continue
		}
		resp.Themes = append(resp.Themes, domainThemeToResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingestReviews handles POST /api/v1/reports/{reportID}/reviews. Pages are
// idempotent when reviews carry their own IDs.
func (s *Server) ingestReviews(w http.ResponseWriter, r *http.Request) {
	var req ingestReviewsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	reviews := make([]*domain.Review, len(req.Reviews))
	for i, p := range req.Reviews {
		rv := &domain.Review{
			Platform:   domain.Platform(p.Platform),
			Text:       p.ReviewText,
			Rating:     p.Rating,
			ReviewDate: p.ReviewDate,
			AuthorName: p.AuthorName,
			SourceURL:  p.SourceURL,
			Metadata:   p.Metadata,
		}
		if p.ID != "" {
			rv.ID = uuid.MustParse(p.ID)
		}
		reviews[i] = rv
	}

	inserted, err := s.deps.Intake.IngestReviews(r.Context(), reportIDFromContext(r.Context()), reviews)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ingestReviewsResponse{Received: len(reviews), Inserted: inserted})
}

// updateScraperStatus handles PUT /api/v1/reports/{reportID}/scraping/{platform}.
func (s *Server) updateScraperStatus(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(chi.URLParam(r, "platform"))
	if !platform.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid platform")
		return
	}

	var req updateScraperStatusRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	session, err := s.deps.Intake.UpdateScraperStatus(r.Context(), reportIDFromContext(r.Context()), platform, domain.ScraperStatus(req.Status))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, domainSessionToResponse(session))
}

// startAnalysis handles POST /api/v1/reports/{reportID}/analyze.
func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	id := reportIDFromContext(r.Context())

	readiness, err := s.deps.Analysis.StartAnalysis(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, readinessToResponse(id.String(), readiness))
}

// completeReport handles POST /api/v1/reports/{reportID}/complete. Losing the
// completion race reports the benign outcome with 200.
func (s *Server) completeReport(w http.ResponseWriter, r *http.Request) {
	id := reportIDFromContext(r.Context())

	outcome, err := s.deps.Completer.Complete(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{ReportID: id.String(), Outcome: string(outcome)})
}
