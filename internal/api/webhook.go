package api

import (
	"io"
	"log/slog"
	"net/http"
)

const webhookTokenHeader = "X-Webhook-Token"

// HandleWebhook validates a CRM trigger and schedules one batch run for the
// pipeline named in the query. It answers 202 as soon as the run is
// scheduled and never carries batch results.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	// The CRM posts form-encoded event details that the batch re-reads
	// from the source anyway.
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 1<<20))

	pipelineName := r.URL.Query().Get("pipeline")
	resp, err := h.deps.Trigger.Trigger(r.Context(), pipelineName, webhookToken(r))
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Failed to schedule batch run from webhook.", "pipeline", pipelineName, "error", err)
			h.httpError(w, "Failed to schedule batch run", code)
			return
		}
		slog.Warn("Rejected webhook trigger.", "pipeline", pipelineName, "error", err)
		h.httpError(w, err.Error(), code)
		return
	}
	h.respondJson(w, http.StatusAccepted, resp)
}

// webhookToken reads the caller token from the query, a dedicated header or
// a Bearer authorization header, in that order.
func webhookToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if token := r.Header.Get(webhookTokenHeader); token != "" {
		return token
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return ""
}
