package api

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

type mockTrigger struct {
	err          error
	gotPipeline  string
	gotToken     string
	triggerCalls int
}

func (m *mockTrigger) Trigger(ctx context.Context, pipelineName, token string) (*models.TriggerResponse, error) {
	m.triggerCalls++
	m.gotPipeline, m.gotToken = pipelineName, token
	if m.err != nil {
		return nil, m.err
	}
	return &models.TriggerResponse{Status: "accepted", Message: "batch run scheduled", Pipeline: pipelineName, RunID: "run-1"}, nil
}

type mockRunner struct {
	newRunErr  error
	executeErr error
	getErr     error
	recentErr  error

	runs      map[string]*models.BatchRun
	executed  []string
	gotLimit  int
	gotFilter string
}

func newMockRunner() *mockRunner {
	return &mockRunner{runs: map[string]*models.BatchRun{}}
}

func (m *mockRunner) NewRun(ctx context.Context, pipelineName string) (*models.BatchRun, error) {
	if m.newRunErr != nil {
		return nil, m.newRunErr
	}
	run := &models.BatchRun{ID: fmt.Sprintf("run-%d", len(m.runs)+1), Pipeline: pipelineName, Status: models.RunScheduled}
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockRunner) Execute(ctx context.Context, pipelineName, runID string) (*models.BatchSummary, error) {
	m.executed = append(m.executed, pipelineName+"/"+runID)
	if m.executeErr != nil {
		return nil, m.executeErr
	}
	return &models.BatchSummary{Pipeline: pipelineName, Found: 1, Attempted: 1, Succeeded: 1}, nil
}

func (m *mockRunner) Get(ctx context.Context, runID string) (*models.BatchRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return run, nil
}

func (m *mockRunner) Recent(ctx context.Context, pipelineName string, limit int) ([]models.BatchRun, error) {
	m.gotFilter, m.gotLimit = pipelineName, limit
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []models.BatchRun
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

type mockDocuments struct {
	err      error
	proforma []models.InvoicePayload
	tax      []models.GenerateTaxRequest
	invoices []models.InvoicePayload
	records  map[string]*models.DocumentRecord
}

func (m *mockDocuments) GenerateProforma(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.proforma = append(m.proforma, payload)
	return &models.IssueResponse{Status: "success", InvoiceNumber: payload.Invoice.Number, DatabaseOperation: "created"}, nil
}

func (m *mockDocuments) GenerateTax(ctx context.Context, req models.GenerateTaxRequest) (*models.IssueResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tax = append(m.tax, req)
	return &models.IssueResponse{Status: "success", InvoiceNumber: req.Invoice.Number, DatabaseOperation: "created"}, nil
}

func (m *mockDocuments) GenerateInvoice(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.invoices = append(m.invoices, payload)
	return &models.IssueResponse{Status: "success", InvoiceNumber: payload.Invoice.Number}, nil
}

func (m *mockDocuments) GetDocument(ctx context.Context, kind, key string) (*models.DocumentRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[kind+"/"+key]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", key, store.ErrNotFound)
	}
	return rec, nil
}

const (
	testAPISecret      = "api-secret"
	testInternalSecret = "internal-secret"
)

func newTestHandlers() (*Handlers, *mockTrigger, *mockRunner, *mockDocuments) {
	trigger := &mockTrigger{}
	runner := newMockRunner()
	docs := &mockDocuments{records: map[string]*models.DocumentRecord{}}
	h := New(Deps{
		Trigger:        trigger,
		Runner:         runner,
		Documents:      docs,
		Health:         func() map[string]any { return map[string]any{"status": "healthy", "kommo": true} },
		APISecret:      testAPISecret,
		InternalSecret: testInternalSecret,
	})
	return h, trigger, runner, docs
}
