package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrAuth", ErrAuth, "authentication failed"},
		{"ErrFetch", ErrFetch, "fetch failed"},
		{"ErrWrite", ErrWrite, "write failed"},
		{"ErrNotify", ErrNotify, "status notify failed"},
		{"ErrOwnerNotFound", ErrOwnerNotFound, "owner not found"},
		{"ErrSyncInProgress", ErrSyncInProgress, "sync already in progress"},
		{"ErrServiceUnavailable", ErrServiceUnavailable, "service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrAuth,
		ErrFetch,
		ErrWrite,
		ErrNotify,
		ErrOwnerNotFound,
		ErrSyncInProgress,
		ErrServiceUnavailable,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestHTTPStatusError(t *testing.T) {
	cause := &HTTPStatusError{Method: "GET", URL: "http://x/Patient", StatusCode: 502, Body: "bad gateway"}
	err := fmt.Errorf("%w: get page: %w", ErrFetch, cause)

	if !errors.Is(err, ErrFetch) {
		t.Error("expected wrapped error to match ErrFetch")
	}
	if got := StatusCodeOf(err); got != 502 {
		t.Errorf("expected status 502, got %d", got)
	}
	if cause.Error() != "GET http://x/Patient: status 502: bad gateway" {
		t.Errorf("unexpected message %q", cause.Error())
	}

	noBody := &HTTPStatusError{Method: "PUT", URL: "http://y", StatusCode: 404}
	if noBody.Error() != "PUT http://y: status 404" {
		t.Errorf("unexpected message %q", noBody.Error())
	}
	if StatusCodeOf(errors.New("plain")) != 0 {
		t.Error("expected 0 for non-status error")
	}
}
