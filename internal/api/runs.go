package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// GetRun returns one batch run record.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.httpError(w, "id is required", http.StatusBadRequest)
		return
	}

	run, err := h.deps.Runner.Get(r.Context(), id)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusNotFound {
			h.httpError(w, "Run not found", code)
			return
		}
		slog.Error("Failed to load batch run.", "runId", id, "error", err)
		h.httpError(w, "Failed to load batch run", code)
		return
	}
	h.respondJson(w, http.StatusOK, run)
}

// ListRuns returns the latest runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	limit := defaultRunsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.httpError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.deps.Runner.Recent(r.Context(), q.Get("pipeline"), limit)
	if err != nil {
		slog.Error("Failed to list batch runs.", "error", err)
		h.httpError(w, "Failed to list batch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.BatchRun{}
	}
	h.respondJson(w, http.StatusOK, map[string]any{"runs": runs})
}

// RunBatch executes a batch synchronously. The workflow scheduler calls it
// with the run it created; the CLI may omit runId to start a fresh run.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req models.RunBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.RunID == "" {
		run, err := h.deps.Runner.NewRun(r.Context(), req.Pipeline)
		if err != nil {
			h.httpError(w, err.Error(), errorStatus(err))
			return
		}
		req.RunID = run.ID
	}

	summary, err := h.deps.Runner.Execute(r.Context(), req.Pipeline, req.RunID)
	if err != nil {
		// Non-2xx lets the workflow retry; the run record already says FAILED.
		h.respondJson(w, errorStatus(err), models.RunBatchResponse{
			Status: models.RunFailed,
			RunID:  req.RunID,
			Error:  err.Error(),
		})
		return
	}
	h.respondJson(w, http.StatusOK, models.RunBatchResponse{
		Status:  models.RunCompleted,
		RunID:   req.RunID,
		Summary: summary,
	})
}
