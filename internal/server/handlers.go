package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caevv/skillq/internal/launch"
	"github.com/caevv/skillq/internal/scheduler"
	"github.com/caevv/skillq/internal/skill"
)

const version = "v0.1.0"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// handleHealth returns the health status of the server
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.queue.Snapshot()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     version,
		Uptime:      s.Uptime(),
		Concurrency: snap.Concurrency,
		Active:      snap.Active,
		Pending:     snap.Pending,
	})
}

// handleSnapshot returns every run and the queue counters
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

// handleGetRun returns a specific run by ID
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, ok := s.queue.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleCreateRun enqueues a run
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "launching runs is not available", nil)
		return
	}

	var req launch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	id, err := s.launcher.Launch(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, skill.ErrUnknownSkill) || errors.Is(err, skill.ErrCycle) ||
			errors.Is(err, launch.ErrUnknownAgent) || req.Skill == "" {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error(), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, CreateRunResponse{ID: id})
}

// handleCancelRun cancels a pending or running run. Cancelling a finished
// run is a no-op that returns the run unchanged.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.queue.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}

	s.queue.Cancel(id)

	run, _ := s.queue.Get(id)
	s.writeJSON(w, http.StatusOK, run)
}

// handleSetConcurrency changes the concurrency limit
func (s *Server) handleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req ConcurrencyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Concurrency < 1 {
		s.writeError(w, http.StatusBadRequest, "concurrency must be at least 1", nil)
		return
	}

	s.queue.SetConcurrency(req.Concurrency)
	s.writeJSON(w, http.StatusOK, ConcurrencyRequest{Concurrency: s.queue.Snapshot().Concurrency})
}

// handleSchedules returns recurring schedule activity
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	stats := []scheduler.Stats{}
	if s.schedules != nil {
		stats = s.schedules.AllStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}

	if err != nil && status >= http.StatusInternalServerError {
		s.logger.Error("API error", "status", status, "message", message, "error", err)
	}

	s.writeJSON(w, status, response)
}
