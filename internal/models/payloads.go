package models

// These structs define the JSON payloads exchanged with webhook callers, the
// operator CLI, and the Cloud Workflow that calls back into RunBatch.

// TriggerResponse acknowledges an accepted webhook. It never carries batch results.
type TriggerResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Pipeline string `json:"pipeline"`
	RunID    string `json:"runId"`
}

// RunBatchRequest is the input for the internal RunBatch function.
type RunBatchRequest struct {
	Pipeline string `json:"pipeline"`
	RunID    string `json:"runId"`
}

// RunBatchResponse is the output of the internal RunBatch function.
type RunBatchResponse struct {
	Status  string        `json:"status"`
	RunID   string        `json:"runId"`
	Summary *BatchSummary `json:"summary,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// GenerateTaxRequest converts a stored proforma into a tax invoice.
type GenerateTaxRequest struct {
	Invoice InvoiceInfo `json:"invoice"`
}

// IssueResponse is returned by the synchronous issue endpoints.
type IssueResponse struct {
	Status            string   `json:"status"`
	Message           string   `json:"message"`
	InvoiceNumber     string   `json:"invoice_number"`
	DealNumber        string   `json:"deal_number"`
	DatabaseOperation string   `json:"database_operation"`
	DatabaseRecordID  string   `json:"database_record_id"`
	PDFFilename       string   `json:"pdf_filename"`
	PDFSizeKB         float64  `json:"pdf_size_kb"`
	EmailsSentTo      []string `json:"emails_sent_to"`
	TotalAED          string   `json:"total_aed"`
}

// SweepEvent is the data of the CloudEvent that triggers a scheduled sweep.
type SweepEvent struct {
	Pipeline string `json:"pipeline"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
