package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/transcribeq/transcribeq/internal/archive"
	"github.com/transcribeq/transcribeq/internal/config"
	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/queue"
	"github.com/transcribeq/transcribeq/internal/storage"
	"github.com/transcribeq/transcribeq/internal/upload"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	sched    *queue.Scheduler
	tracker  *upload.Tracker
	pipeline *upload.Pipeline
	files    *storage.Dir
	archive  *archive.Store
	cfg      *config.Config
}

// Deps groups the collaborators a Handler serves. Pipeline, Files and
// Archive may be nil; their routes then answer 503.
type Deps struct {
	Scheduler *queue.Scheduler
	Tracker   *upload.Tracker
	Pipeline  *upload.Pipeline
	Files     *storage.Dir
	Archive   *archive.Store
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(d Deps, cfg *config.Config) *Handler {
	return &Handler{
		sched:    d.Scheduler,
		tracker:  d.Tracker,
		pipeline: d.Pipeline,
		files:    d.Files,
		archive:  d.Archive,
		cfg:      cfg,
	}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", h.StreamEvents)
	mux.HandleFunc("POST /api/v1/queue/process", h.ProcessQueue)

	mux.HandleFunc("PUT /api/v1/uploads/{id}/status", h.SetUploadStatus)
	mux.HandleFunc("GET /api/v1/uploads/{id}/status", h.GetUploadStatus)
	mux.HandleFunc("DELETE /api/v1/uploads/{id}/status", h.DeleteUploadStatus)
	mux.HandleFunc("POST /api/v1/uploads", h.Upload)

	mux.HandleFunc("GET /api/v1/files", h.ListFiles)
	mux.HandleFunc("GET /api/v1/transcripts", h.ListTranscripts)
	mux.HandleFunc("GET /api/v1/transcripts/{fileName}", h.GetTranscript)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// SubmitJob handles POST /api/v1/jobs and responds 202 with the queued job.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req job.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	j, err := h.sched.Submit(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

// ListJobs handles GET /api/v1/jobs: every job newest first, plus queue stats.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, stats := h.sched.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"stats": stats,
	})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.sched.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel. Only queued jobs can be
// cancelled; they are forgotten rather than marked.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Cancel(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// ProcessQueue handles POST /api/v1/queue/process, an idempotent dispatch tick.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.sched.Process()
	resp := map[string]any{
		"processing": ok,
		"stats":      h.sched.Stats(),
	}
	if ok {
		resp["job"] = cur
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetUploadStatus handles PUT /api/v1/uploads/{id}/status.
func (h *Handler) SetUploadStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var st upload.Status
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.tracker.SetStatus(r.PathValue("id"), st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUploadStatus handles GET /api/v1/uploads/{id}/status.
func (h *Handler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.GetStatus(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteUploadStatus handles DELETE /api/v1/uploads/{id}/status.
func (h *Handler) DeleteUploadStatus(w http.ResponseWriter, r *http.Request) {
	h.tracker.DeleteStatus(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// ListFiles handles GET /api/v1/files.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeError(w, http.StatusServiceUnavailable, "file storage not configured")
		return
	}
	files, err := h.files.List()
	if err != nil {
		slog.Error("list files", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// ListTranscripts handles GET /api/v1/transcripts with limit/offset paging.
func (h *Handler) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)

	items, total, err := h.archive.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list transcripts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	// Return an empty array instead of null when there are no transcripts.
	if items == nil {
		items = []archive.Transcript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts": items,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// GetTranscript handles GET /api/v1/transcripts/{fileName}.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}
	t, err := h.archive.Get(r.Context(), r.PathValue("fileName"))
	if err != nil {
		slog.Error("get transcript", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transcript")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Health handles GET /api/v1/health and responds 200 with queue stats.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queue":   h.sched.Stats(),
		"uploads": h.tracker.Len(),
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// writeErr maps domain errors to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrNotFound), errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, job.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
