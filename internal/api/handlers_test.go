package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
	"github.com/Lllllllleong/invoiceflow/internal/services"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

func serve(h *Handlers, method, target, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, req)
	return rr
}

func TestHandleWebhook(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		header         map[string]string
		method         string
		triggerErr     error
		expectedStatus int
		expectedToken  string
		expectedInBody string
	}{
		{
			name:           "Accepted with query token",
			target:         "/Webhook?pipeline=proforma&token=hook",
			expectedStatus: http.StatusAccepted,
			expectedToken:  "hook",
			expectedInBody: `"runId":"run-1"`,
		},
		{
			name:           "Header token",
			target:         "/Webhook?pipeline=tax",
			header:         map[string]string{"X-Webhook-Token": "hook"},
			expectedStatus: http.StatusAccepted,
			expectedToken:  "hook",
		},
		{
			name:           "Bearer token",
			target:         "/Webhook?pipeline=tax",
			header:         map[string]string{"Authorization": "Bearer hook"},
			expectedStatus: http.StatusAccepted,
			expectedToken:  "hook",
		},
		{
			name:           "Unauthorized",
			target:         "/Webhook?pipeline=tax&token=nope",
			triggerErr:     pipeline.ErrUnauthorized,
			expectedStatus: http.StatusUnauthorized,
			expectedToken:  "nope",
			expectedInBody: "unauthorized",
		},
		{
			name:           "Unknown pipeline",
			target:         "/Webhook?pipeline=refund&token=hook",
			triggerErr:     fmt.Errorf("%w: %q", services.ErrUnknownPipeline, "refund"),
			expectedStatus: http.StatusBadRequest,
			expectedToken:  "hook",
		},
		{
			name:           "Scheduling failure",
			target:         "/Webhook?pipeline=tax&token=hook",
			triggerErr:     errors.New("workflows unavailable"),
			expectedStatus: http.StatusInternalServerError,
			expectedToken:  "hook",
			expectedInBody: "Failed to schedule batch run",
		},
		{
			name:           "Wrong method",
			target:         "/Webhook?pipeline=tax&token=hook",
			method:         http.MethodGet,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, trigger, _, _ := newTestHandlers()
			trigger.err = tt.triggerErr

			method := tt.method
			if method == "" {
				method = http.MethodPost
			}
			req := httptest.NewRequest(method, tt.target, strings.NewReader("leads[status][0][id]=1"))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.Mux().ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedToken, trigger.gotToken)
			if tt.expectedInBody != "" {
				assert.Contains(t, rr.Body.String(), tt.expectedInBody)
			}
			if tt.method != "" {
				assert.Zero(t, trigger.triggerCalls)
			}
		})
	}
}

func TestGenerateProforma(t *testing.T) {
	validBody := `{"invoice":{"number":"00PI25-00000042","deal_number":"42"},"items":[{"description":"Chair","quantity":1,"price_incl_vat_aed":105}],"recipient_emails":["a@b.test"]}`

	tests := []struct {
		name           string
		body           string
		bearer         string
		serviceErr     error
		expectedStatus int
		expectedInBody string
	}{
		{"Success", validBody, testAPISecret, nil, http.StatusOK, `"invoice_number":"00PI25-00000042"`},
		{"Missing token", validBody, "", nil, http.StatusUnauthorized, "Missing authorization header"},
		{"Wrong token", validBody, "guess", nil, http.StatusUnauthorized, "Invalid authorization token"},
		{"Invalid JSON", `{invalid-json}`, testAPISecret, nil, http.StatusBadRequest, "Invalid request body"},
		{"Validation error", validBody, testAPISecret, fmt.Errorf("%w: no items", services.ErrInvalidRequest), http.StatusBadRequest, "no items"},
		{"Delivery failure", validBody, testAPISecret, fmt.Errorf("%w: resend down", pipeline.ErrDelivery), http.StatusInternalServerError, "Error generating proforma invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, docs := newTestHandlers()
			docs.err = tt.serviceErr

			rr := serve(h, http.MethodPost, "/GenerateProforma", tt.body, tt.bearer)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedInBody)
		})
	}
}

func TestGenerateTax(t *testing.T) {
	h, _, _, docs := newTestHandlers()

	rr := serve(h, http.MethodPost, "/GenerateTax", `{"invoice":{"number":"TAXZS-00042","deal_number":"42"}}`, testAPISecret)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, docs.tax, 1)
	assert.Equal(t, "42", docs.tax[0].Invoice.DealNumber)

	docs.err = fmt.Errorf("failed to load proforma: %w", store.ErrNotFound)
	rr = serve(h, http.MethodPost, "/GenerateTax", `{"invoice":{"number":"TAXZS-00042","deal_number":"42"}}`, testAPISecret)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGenerateInvoice(t *testing.T) {
	body := `{"invoice":{"number":"INV-7"},"items":[{"description":"Chair","quantity":1,"price_incl_vat_aed":105}],"recipient_emails":["a@b.test"]}`
	h, _, _, docs := newTestHandlers()

	rr := serve(h, http.MethodPost, "/GenerateInvoice", body, testAPISecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invoice_number":"INV-7"`)
	require.Len(t, docs.invoices, 1)
	assert.Equal(t, []string{"a@b.test"}, docs.invoices[0].RecipientEmails)

	rr = serve(h, http.MethodPost, "/GenerateInvoice", body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(h, http.MethodGet, "/GenerateInvoice", "", testAPISecret)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	docs.err = fmt.Errorf("%w: no items", services.ErrInvalidRequest)
	rr = serve(h, http.MethodPost, "/GenerateInvoice", body, testAPISecret)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, docs.invoices, 1)
}

func TestGetDocument(t *testing.T) {
	h, _, _, docs := newTestHandlers()
	docs.records["proforma/42"] = &models.DocumentRecord{ID: "42", BusinessKey: "42"}

	rr := serve(h, http.MethodGet, "/GetDocument?key=42", "", testAPISecret)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec models.DocumentRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "42", rec.BusinessKey)

	rr = serve(h, http.MethodGet, "/GetDocument?kind=tax&key=42", "", testAPISecret)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, http.MethodGet, "/GetDocument?key=42", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetRunAndListRuns(t *testing.T) {
	h, _, runner, _ := newTestHandlers()
	runner.runs["r1"] = &models.BatchRun{ID: "r1", Pipeline: "tax", Status: models.RunCompleted}

	rr := serve(h, http.MethodGet, "/GetRun?id=r1", "", testAPISecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"COMPLETED"`)

	rr = serve(h, http.MethodGet, "/GetRun?id=missing", "", testAPISecret)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, http.MethodGet, "/GetRun", "", testAPISecret)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, http.MethodGet, "/ListRuns?pipeline=tax&limit=500", "", testAPISecret)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, maxRunsLimit, runner.gotLimit)
	assert.Equal(t, "tax", runner.gotFilter)

	rr = serve(h, http.MethodGet, "/ListRuns?limit=abc", "", testAPISecret)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	runner.recentErr = errors.New("firestore down")
	rr = serve(h, http.MethodGet, "/ListRuns", "", testAPISecret)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRunBatch(t *testing.T) {
	t.Run("Uses the given run", func(t *testing.T) {
		h, _, runner, _ := newTestHandlers()
		rr := serve(h, http.MethodPost, "/RunBatch", `{"pipeline":"tax","runId":"wf-run"}`, testInternalSecret)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp models.RunBatchResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.RunCompleted, resp.Status)
		assert.Equal(t, "wf-run", resp.RunID)
		assert.Equal(t, 1, resp.Summary.Succeeded)
		assert.Equal(t, []string{"tax/wf-run"}, runner.executed)
	})

	t.Run("Creates a run when none is given", func(t *testing.T) {
		h, _, runner, _ := newTestHandlers()
		rr := serve(h, http.MethodPost, "/RunBatch", `{"pipeline":"proforma"}`, testInternalSecret)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{"proforma/run-1"}, runner.executed)
	})

	t.Run("Batch failure", func(t *testing.T) {
		h, _, runner, _ := newTestHandlers()
		runner.executeErr = fmt.Errorf("batch run failed: %w", pipeline.ErrSourceUnavailable)
		rr := serve(h, http.MethodPost, "/RunBatch", `{"pipeline":"tax","runId":"r1"}`, testInternalSecret)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, rr.Body.String(), "candidate source unavailable")
	})

	t.Run("Requires the internal secret", func(t *testing.T) {
		h, _, runner, _ := newTestHandlers()
		rr := serve(h, http.MethodPost, "/RunBatch", `{"pipeline":"tax"}`, testAPISecret)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, runner.executed)
	})
}

func TestHealthAndTestToken(t *testing.T) {
	h, _, _, _ := newTestHandlers()

	rr := serve(h, http.MethodGet, "/Health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kommo":true`)

	rr = serve(h, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kommo":true`)

	rr = serve(h, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, http.MethodPost, "/TestToken", "", testAPISecret)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(h, http.MethodPost, "/TestToken", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoutesCoverEveryFunction(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	routes := h.Routes()
	for _, name := range HTTPFunctions {
		assert.Contains(t, routes, name)
	}
	assert.Len(t, routes, len(HTTPFunctions))
}
