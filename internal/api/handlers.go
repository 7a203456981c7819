// Package api contains the HTTP and CloudEvent handlers of the invoicer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// Triggerer accepts webhook triggers.
type Triggerer interface {
	Trigger(ctx context.Context, pipelineName, token string) (*models.TriggerResponse, error)
}

// Runner creates, executes and reads batch runs.
type Runner interface {
	NewRun(ctx context.Context, pipelineName string) (*models.BatchRun, error)
	Execute(ctx context.Context, pipelineName, runID string) (*models.BatchSummary, error)
	Get(ctx context.Context, runID string) (*models.BatchRun, error)
	Recent(ctx context.Context, pipelineName string, limit int) ([]models.BatchRun, error)
}

// Documents issues and reads invoices.
type Documents interface {
	GenerateProforma(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error)
	GenerateTax(ctx context.Context, req models.GenerateTaxRequest) (*models.IssueResponse, error)
	GenerateInvoice(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error)
	GetDocument(ctx context.Context, kind, key string) (*models.DocumentRecord, error)
}

// Deps are the collaborators and secrets of the handlers.
type Deps struct {
	Trigger   Triggerer
	Runner    Runner
	Documents Documents
	Health    func() map[string]any
	Metrics   http.Handler

	APISecret      string
	InternalSecret string
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	deps Deps
}

// New creates a new Handlers instance.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// FromApp wires handlers to a fully built application.
func FromApp(app *services.App) *Handlers {
	return New(Deps{
		Trigger:        app.Trigger,
		Runner:         app.Runner,
		Documents:      app.Documents,
		Health:         app.Health,
		Metrics:        app.MetricsHandler,
		APISecret:      app.Config.APISecretToken,
		InternalSecret: app.Config.InternalSecret,
	})
}

// HTTPFunctions are the names the HTTP handlers are registered under.
var HTTPFunctions = []string{
	"Webhook",
	"GenerateProforma",
	"GenerateTax",
	"GenerateInvoice",
	"GetDocument",
	"GetRun",
	"ListRuns",
	"RunBatch",
	"TestToken",
	"Health",
	"Metrics",
}

// Routes maps every entry in HTTPFunctions to its handler, with auth applied.
func (h *Handlers) Routes() map[string]http.Handler {
	apiAuth := RequireBearer(h.deps.APISecret)
	internalAuth := RequireBearer(h.deps.InternalSecret)

	metrics := h.deps.Metrics
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}

	return map[string]http.Handler{
		"Webhook":          http.HandlerFunc(h.HandleWebhook),
		"GenerateProforma": apiAuth(http.HandlerFunc(h.GenerateProforma)),
		"GenerateTax":      apiAuth(http.HandlerFunc(h.GenerateTax)),
		"GenerateInvoice":  apiAuth(http.HandlerFunc(h.GenerateInvoice)),
		"GetDocument":      apiAuth(http.HandlerFunc(h.GetDocument)),
		"GetRun":           apiAuth(http.HandlerFunc(h.GetRun)),
		"ListRuns":         apiAuth(http.HandlerFunc(h.ListRuns)),
		"RunBatch":         internalAuth(http.HandlerFunc(h.RunBatch)),
		"TestToken":        apiAuth(http.HandlerFunc(h.TestToken)),
		"Health":           http.HandlerFunc(h.Health),
		"Metrics":          metrics,
	}
}

// Mux serves every route under "/<name>", the paths the functions
// framework uses when all functions run in one process. The bare root
// answers like Health.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	for name, handler := range h.Routes() {
		mux.Handle("/"+name, handler)
	}
	mux.Handle("GET /{$}", http.HandlerFunc(h.Health))
	return mux
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, models.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUnknownPipeline), errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// Health reports liveness and which collaborators are configured.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if h.deps.Health != nil {
		body = h.deps.Health()
	}
	h.respondJson(w, http.StatusOK, body)
}

// TestToken only confirms that the caller's API token is valid.
func (h *Handlers) TestToken(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Token is valid",
	})
}
