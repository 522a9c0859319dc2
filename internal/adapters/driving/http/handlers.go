package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response
type StatusResponse struct {
	Status string `json:"status"`
}

// ReadyResponse lists the result of every backend check
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the API version response
type VersionResponse struct {
	Version string `json:"version"`
}

const syncAccepted = "success"

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady pings every configured backend and requires a completed handshake
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks)+1)}
	code := http.StatusOK

	if s.credentials != nil {
		if s.credentials.Ready() {
			resp.Checks["credentials"] = "ok"
		} else {
			resp.Checks["credentials"] = "pending"
			code = http.StatusServiceUnavailable
		}
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name].Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	if code != http.StatusOK {
		resp.Status = "not ready"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Sync endpoints

// handleRunSync runs a full pass and answers once it has finished.
// The outcome is published through the status record, not the response.
func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	// a client hanging up must not abort the pass halfway through a page
	ctx := context.WithoutCancel(r.Context())

	result, err := s.syncEngine.Run(ctx)
	if errors.Is(err, domain.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		s.logger.Warn("sync run ended incomplete", "request_id", RequestIDFrom(r.Context()), "error", err)
	} else if result != nil {
		s.logger.Info("sync run finished", "request_id", RequestIDFrom(r.Context()), "job_id", result.JobID, "total", result.Total)
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: syncAccepted})
}

// handleTriggerSync starts a pass in the background and answers immediately
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	err := s.syncEngine.Trigger(r.Context())
	if errors.Is(err, domain.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	if err != nil {
		s.logger.Error("sync trigger failed", "request_id", RequestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: syncAccepted})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
