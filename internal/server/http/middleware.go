package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/happynocode/app-review-analysis/internal/observability"
)

type contextKey string

const ctxKeyReportID contextKey = "report_id"

// requestIDHeader echoes the request ID assigned by middleware.RequestID.
const requestIDHeader = "X-Request-ID"

// requestIDMiddleware copies chi's request ID into the observability context
// and the response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), reqID)))
	})
}

// accessLogMiddleware logs one line per request. Server errors log at warn.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := observability.LoggerFromContext(r.Context(), s.logger)
		event := logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// reportIDMiddleware parses the {reportID} path parameter and rejects
// malformed IDs before any handler runs.
func reportIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "reportID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid report ID")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyReportID, id)
		ctx = observability.WithReportID(ctx, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reportIDFromContext returns the report ID parsed by reportIDMiddleware.
func reportIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(ctxKeyReportID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
