package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripwire/binlog/internal/sink/sqlite"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store      Store
	recordSink RecordSink
	runner     *Runner
	logger     *slog.Logger
}

// NewServer creates a Server backed by store and runner. recordSink may be
// nil; when non-nil it replaces store as the source for GET .../records.
func NewServer(store Store, recordSink RecordSink, runner *Runner, logger *slog.Logger) *Server {
	return &Server{store: store, recordSink: recordSink, runner: runner, logger: logger}
}

// handleHealthz responds to GET /healthz without authentication.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// submitJobResponse is returned by POST /api/v1/jobs.
type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleSubmitJob responds to POST /api/v1/jobs.
//
// The request body is a JSON jobSpec naming the log path on disk and decode
// options. The job is persisted as queued, a background goroutine starts
// decoding it immediately, and the handler responds 202 Accepted with the
// new job's ID before decoding completes.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec jobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	if spec.Path == "" {
		writeError(w, http.StatusBadRequest, "'path' is required")
		return
	}
	switch spec.Mode {
	case "", "sequential", "threaded", "parallel":
	default:
		writeError(w, http.StatusBadRequest, "'mode' must be one of sequential, threaded, parallel")
		return
	}

	optionsJS, err := json.Marshal(spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode job options")
		return
	}

	jobID := uuid.NewString()
	if err := s.store.CreateJob(r.Context(), jobID, spec.Path, optionsJS); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	go s.runner.Run(context.Background(), jobID, spec)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitJobResponse{JobID: jobID, Status: string(sqlite.JobQueued)})
}

// jobResponse is the JSON representation of a job's status returned by
// GET /api/v1/jobs/{id}.
type jobResponse struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	Status    string          `json:"status"`
	Options   json.RawMessage `json:"options,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// handleGetJob responds to GET /api/v1/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{
		ID:        job.ID,
		Path:      job.Path,
		Status:    string(job.Status),
		Options:   job.OptionsJS,
		Stats:     job.StatsJS,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		UpdatedAt: job.UpdatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleGetJobRecords responds to GET /api/v1/jobs/{id}/records.
//
// Supported query parameters:
//
//	limit  – maximum number of records to return (default 100, max 1000)
//	offset – pagination offset (default 0)
func (s *Server) handleGetJobRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit := 100
	if limitStr := q.Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if v > 1000 {
			v = 1000
		}
		limit = v
	}

	offset := 0
	if offsetStr := q.Get("offset"); offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		offset = v
	}

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var records []json.RawMessage
	var err error
	if s.recordSink != nil {
		records, err = s.recordSink.ReadRecords(r.Context(), id, offset, limit)
	} else {
		records, err = s.store.ListRecords(r.Context(), id, offset, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(records)
}
