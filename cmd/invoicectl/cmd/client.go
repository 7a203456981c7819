package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

var envKeyReplacer = strings.NewReplacer("-", "_")

// InvoiceClient calls the invoicer's HTTP functions.
type InvoiceClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewInvoiceClient creates a new client with the given base URL and token.
func NewInvoiceClient(baseURL, token string) *InvoiceClient {
	return &InvoiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the invoicer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// GetDocument sends GET /GetDocument for a stored invoice record.
func (c *InvoiceClient) GetDocument(kind, key string) (*models.DocumentRecord, error) {
	q := url.Values{"kind": {kind}, "key": {key}}
	var rec models.DocumentRecord
	if err := c.do(http.MethodGet, "/GetDocument?"+q.Encode(), c.Token, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Trigger posts to the webhook exactly as the CRM would.
func (c *InvoiceClient) Trigger(pipeline, webhookToken string) (*models.TriggerResponse, error) {
	q := url.Values{"pipeline": {pipeline}}
	var resp models.TriggerResponse
	if err := c.do(http.MethodPost, "/Webhook?"+q.Encode(), webhookToken, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun sends GET /GetRun for one batch run.
func (c *InvoiceClient) GetRun(id string) (*models.BatchRun, error) {
	q := url.Values{"id": {id}}
	var run models.BatchRun
	if err := c.do(http.MethodGet, "/GetRun?"+q.Encode(), c.Token, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns sends GET /ListRuns, newest first.
func (c *InvoiceClient) ListRuns(pipeline string, limit int) ([]models.BatchRun, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if pipeline != "" {
		q.Set("pipeline", pipeline)
	}
	var resp struct {
		Runs []models.BatchRun `json:"runs"`
	}
	if err := c.do(http.MethodGet, "/ListRuns?"+q.Encode(), c.Token, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *InvoiceClient) do(method, path, token string, out any) error {
	httpReq, err := http.NewRequest(method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the error field of a JSON error body.
func errorMessage(body []byte) string {
	var e models.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
