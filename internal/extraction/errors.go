package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/happynocode/app-review-analysis/internal/domain"
)

// APIError represents an error returned by an extraction provider API.
type APIError struct {
	// Provider is the name of the provider (e.g., "openai", "anthropic").
	Provider string
	// StatusCode is the HTTP status code returned by the API.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true for rate limiting (429), server errors (5xx) and
// network errors (StatusCode 0, no HTTP response received).
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Unwrap maps the status onto the domain sentinels: 429 is
// domain.ErrRateLimited, 5xx and network failures are
// domain.ErrServiceUnavailable. Other statuses have no sentinel.
func (e *APIError) Unwrap() error {
	switch {
	case e.IsRateLimited():
		return domain.ErrRateLimited
	case e.IsTransient():
		return domain.ErrServiceUnavailable
	default:
		return nil
	}
}

// isTransientError reports whether the provider's inner retry loop should try again.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// Error classes used as metric labels.
const (
	ErrorTypeTimeout     = "timeout"
	ErrorTypeRateLimited = "rate_limited"
	ErrorTypeParse       = "parse"
	ErrorTypeAPI         = "api"
	ErrorTypeCanceled    = "canceled"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyError maps an extraction error to one of the ErrorType constants.
func ClassifyError(err error) string {
	var (
		apiErr   *APIError
		parseErr *ParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.As(err, &parseErr):
		return ErrorTypeParse
	case errors.As(err, &apiErr):
		if apiErr.IsRateLimited() {
			return ErrorTypeRateLimited
		}
		return ErrorTypeAPI
	default:
		return ErrorTypeUnknown
	}
}
