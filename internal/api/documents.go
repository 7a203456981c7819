package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// GenerateProforma stores, renders and mails a proforma invoice.
func (h *Handlers) GenerateProforma(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var payload models.InvoicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.deps.Documents.GenerateProforma(r.Context(), payload)
	if err != nil {
		h.issueError(w, "proforma", err)
		return
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GenerateTax converts the stored proforma of a deal into a tax invoice.
func (h *Handlers) GenerateTax(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req models.GenerateTaxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.deps.Documents.GenerateTax(r.Context(), req)
	if err != nil {
		h.issueError(w, "tax", err)
		return
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GenerateInvoice renders and mails a tax invoice straight from the request
// body without storing it.
func (h *Handlers) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var payload models.InvoicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.deps.Documents.GenerateInvoice(r.Context(), payload)
	if err != nil {
		h.issueError(w, "tax", err)
		return
	}
	h.respondJson(w, http.StatusOK, resp)
}

func (h *Handlers) issueError(w http.ResponseWriter, kind string, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("Failed to generate invoice.", "kind", kind, "error", err)
		h.httpError(w, "Error generating "+kind+" invoice", code)
		return
	}
	h.httpError(w, err.Error(), code)
}

// GetDocument returns the stored record of a deal.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	kind := q.Get("kind")
	if kind == "" {
		kind = string(models.KindProforma)
	}

	rec, err := h.deps.Documents.GetDocument(r.Context(), kind, q.Get("key"))
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			slog.Error("Failed to load document.", "kind", kind, "key", q.Get("key"), "error", err)
			h.httpError(w, "Failed to load document", code)
			return
		}
		h.httpError(w, err.Error(), code)
		return
	}
	h.respondJson(w, http.StatusOK, rec)
}
