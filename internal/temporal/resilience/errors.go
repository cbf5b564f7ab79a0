// Package resilience classifies pipeline errors for Temporal activities so
// that permanent failures stop retrying while transient ones back off.
package resilience

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/happynocode/app-review-analysis/internal/domain"
	"github.com/happynocode/app-review-analysis/internal/extraction"
)

// ErrorCategory classifies errors into activity-level categories that
// determine whether Temporal should retry.
type ErrorCategory int

const (
	// Transient errors are retried with the activity retry policy
	// (network timeouts, unavailable database, 5xx).
	Transient ErrorCategory = iota

	// RateLimited errors are retried like transient ones but are reported
	// separately so the retry backoff can be tuned.
	RateLimited

	// Permanent errors are not retried.
	Permanent
)

// Application error types attached to converted activity errors.
const (
	TypeRateLimited       = "rate_limited"
	TypeInvalidInput      = "invalid_input"
	TypeInvalidTransition = "invalid_transition"
	TypeNoCompletedTasks  = "no_completed_tasks"
	TypeNotFound          = "not_found"
	TypePermanent         = "permanent"
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Temporal ApplicationError with NonRetryable set
//  2. Domain sentinels (invalid input, invalid transition, no completed tasks, not found)
//  3. Extraction API errors by status code
//  4. Default: Transient (timeouts, driver and network failures)
func Classify(err error) ErrorCategory {
	if err == nil {
		return Permanent
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.Type() == TypeRateLimited {
			return RateLimited
		}
		if appErr.NonRetryable() {
			return Permanent
		}
	}

	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return RateLimited
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrConflict):
		return Transient
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoCompletedTasks),
		errors.Is(err, domain.ErrNotFound):
		return Permanent
	}

	var apiErr *extraction.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimited():
			return RateLimited
		case apiErr.IsTransient():
			return Transient
		default:
			return Permanent
		}
	}

	return Transient
}

// ToActivityError converts err into the error an activity should return.
// Permanent failures become non-retryable application errors tagged with a
// type; rate-limited ones become retryable application errors; everything
// else is returned unchanged.
func ToActivityError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}

	switch Classify(err) {
	case Permanent:
		return temporal.NewNonRetryableApplicationError(err.Error(), permanentType(err), err)
	case RateLimited:
		return temporal.NewApplicationErrorWithCause(err.Error(), TypeRateLimited, err)
	default:
		return err
	}
}

func permanentType(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return TypeInvalidInput
	case errors.Is(err, domain.ErrInvalidTransition):
		return TypeInvalidTransition
	case errors.Is(err, domain.ErrNoCompletedTasks):
		return TypeNoCompletedTasks
	case errors.Is(err, domain.ErrNotFound):
		return TypeNotFound
	default:
		return TypePermanent
	}
}
