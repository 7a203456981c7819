package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/invoice"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// Issuer persists, renders and delivers a single document. Deliver skips
// the persistence.
type Issuer interface {
	Issue(ctx context.Context, collection, businessKey string, payload models.InvoicePayload) (*pipeline.IssueResult, error)
	Deliver(ctx context.Context, payload models.InvoicePayload) (*pipeline.IssueResult, error)
}

// DocumentService issues invoices on direct API calls and reads stored ones.
type DocumentService struct {
	issuer    Issuer
	store     store.Backend
	pipelines models.PipelineSet
	now       func() time.Time
}

func NewDocumentService(issuer Issuer, backend store.Backend, pipelines models.PipelineSet) *DocumentService {
	return &DocumentService{issuer: issuer, store: backend, pipelines: pipelines, now: time.Now}
}

func (s *DocumentService) pipelineFor(kind models.DocumentKind) (models.Pipeline, error) {
	pl, ok := s.pipelines.Lookup(string(kind))
	if !ok {
		return models.Pipeline{}, fmt.Errorf("%w: %q", ErrUnknownPipeline, kind)
	}
	return pl, nil
}

// GenerateProforma stores the proforma under its deal number, renders it
// and mails it.
func (s *DocumentService) GenerateProforma(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error) {
	payload.Kind = models.KindProforma
	payload.Invoice.DealNumber = strings.TrimSpace(payload.Invoice.DealNumber)
	if payload.Invoice.DateOfIssuing == "" {
		payload.Invoice.DateOfIssuing = s.now().Format(invoice.DateLayout)
	}
	if err := invoice.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	pl, err := s.pipelineFor(models.KindProforma)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, pl, payload)
}

// GenerateTax turns the stored proforma of a deal into a tax invoice.
func (s *DocumentService) GenerateTax(ctx context.Context, req models.GenerateTaxRequest) (*models.IssueResponse, error) {
	deal := strings.TrimSpace(req.Invoice.DealNumber)
	if deal == "" || strings.TrimSpace(req.Invoice.Number) == "" {
		return nil, fmt.Errorf("%w: invoice.number and invoice.deal_number are required", ErrInvalidRequest)
	}

	proforma, err := s.pipelineFor(models.KindProforma)
	if err != nil {
		return nil, err
	}
	tax, err := s.pipelineFor(models.KindTax)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Records(proforma.Collection).FindByKey(ctx, deal)
	if err != nil {
		return nil, fmt.Errorf("failed to load proforma for deal %s: %w", deal, err)
	}
	payload := rec.Payload
	if !payload.HasRecipients() {
		return nil, fmt.Errorf("%w: proforma for deal %s has no recipient emails", ErrInvalidRequest, deal)
	}

	payload.Kind = models.KindTax
	payload.Invoice = models.InvoiceInfo{
		Number:        strings.TrimSpace(req.Invoice.Number),
		DateOfIssuing: req.Invoice.DateOfIssuing,
		DealNumber:    deal,
	}
	if payload.Invoice.DateOfIssuing == "" {
		payload.Invoice.DateOfIssuing = s.now().Format(invoice.DateLayout)
	}
	payload.Terms = models.Terms{PaymentTerms: invoice.TaxTerms, AmountPaid: "0"}

	return s.issue(ctx, tax, payload)
}

// GenerateInvoice renders a tax invoice from the request alone and mails
// it. Nothing is stored, so the deal number is optional.
func (s *DocumentService) GenerateInvoice(ctx context.Context, payload models.InvoicePayload) (*models.IssueResponse, error) {
	payload.Kind = models.KindTax
	payload.Invoice.DealNumber = strings.TrimSpace(payload.Invoice.DealNumber)
	if payload.Invoice.DateOfIssuing == "" {
		payload.Invoice.DateOfIssuing = s.now().Format(invoice.DateLayout)
	}
	if err := invoice.ValidateContent(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	logCtx := slog.With("invoiceNumber", payload.Invoice.Number, "dealNumber", payload.Invoice.DealNumber)
	res, err := s.issuer.Deliver(ctx, payload)
	if err != nil {
		logCtx.Error("Failed to deliver invoice.", "error", err)
		return nil, err
	}

	return &models.IssueResponse{
		Status:        "success",
		Message:       "Invoice generated and sent successfully",
		InvoiceNumber: payload.Invoice.Number,
		DealNumber:    payload.Invoice.DealNumber,
		PDFFilename:   res.Filename,
		PDFSizeKB:     math.Round(float64(len(res.PDF))/1024*100) / 100,
		EmailsSentTo:  res.Recipients,
		TotalAED:      res.Total,
	}, nil
}

func (s *DocumentService) issue(ctx context.Context, pl models.Pipeline, payload models.InvoicePayload) (*models.IssueResponse, error) {
	deal := payload.Invoice.DealNumber
	logCtx := slog.With("pipeline", pl.Name, "dealNumber", deal, "invoiceNumber", payload.Invoice.Number)

	res, err := s.issuer.Issue(ctx, pl.Collection, deal, payload)
	if err != nil {
		logCtx.Error("Failed to issue document.", "error", err)
		return nil, err
	}

	operation := "updated"
	if res.IsNew {
		operation = "created"
	}
	title := "Proforma invoice"
	if payload.Kind == models.KindTax {
		title = "Tax invoice"
	}

	return &models.IssueResponse{
		Status:            "success",
		Message:           fmt.Sprintf("%s generated and sent successfully", title),
		InvoiceNumber:     payload.Invoice.Number,
		DealNumber:        deal,
		DatabaseOperation: operation,
		DatabaseRecordID:  res.RecordID,
		PDFFilename:       res.Filename,
		PDFSizeKB:         math.Round(float64(len(res.PDF))/1024*100) / 100,
		EmailsSentTo:      res.Recipients,
		TotalAED:          res.Total,
	}, nil
}

// GetDocument returns the stored record of a deal for a document kind.
func (s *DocumentService) GetDocument(ctx context.Context, kind, key string) (*models.DocumentRecord, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	pl, ok := s.pipelines.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, kind)
	}
	return s.store.Records(pl.Collection).FindByKey(ctx, key)
}
