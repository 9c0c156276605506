package pipefy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upstream request taxonomy. Handlers map these to
// operator-facing messages; everything else surfaces generically.
var (
	// ErrUnauthorized means the bearer token was rejected. Never retried.
	ErrUnauthorized = errors.New("upstream credential is invalid or expired")

	// ErrRateLimited means the retry budget for HTTP 429 was exhausted.
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrServerError means the retry budget for HTTP 5xx was exhausted.
	ErrServerError = errors.New("upstream server error")

	// ErrConnectivity wraps transport-level failures.
	ErrConnectivity = errors.New("could not reach upstream")

	// ErrSearchCanceled is returned when a search run is canceled by the
	// operator. Callers show a neutral "canceled" notice, not a failure.
	ErrSearchCanceled = errors.New("search canceled")
)

// APIError carries a structured error payload returned with an otherwise
// successful HTTP response.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return "upstream returned an unspecified error"
	}
	return fmt.Sprintf("upstream error: %s", e.Messages[0])
}
