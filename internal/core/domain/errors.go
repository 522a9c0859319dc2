package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested record was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuth indicates the aggregator handshake or token exchange failed
	ErrAuth = errors.New("authentication failed")

	// ErrFetch indicates a request to the source aggregator failed
	ErrFetch = errors.New("fetch failed")

	// ErrWrite indicates a write to the destination store failed
	ErrWrite = errors.New("write failed")

	// ErrNotify indicates a status record could not be written
	ErrNotify = errors.New("status notify failed")

	// ErrOwnerNotFound indicates the state store has no owner user
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrSyncInProgress indicates a sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrServiceUnavailable indicates a backing service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// HTTPStatusError is returned by the HTTP adapters when a remote service
// answers with a non-2xx status.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
