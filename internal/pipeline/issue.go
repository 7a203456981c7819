package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/invoice"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/notify"
	"github.com/Lllllllleong/invoiceflow/internal/render"
)

// IssueResult describes one persisted, rendered and delivered document.
type IssueResult struct {
	RecordID   string
	IsNew      bool
	Filename   string
	PDF        []byte
	ArchiveURI string
	Receipt    notify.Receipt
	Recipients []string
	Total      string
}

// Issue upserts payload under businessKey in collection, renders it and
// mails it to the payload's recipients. Errors wrap ErrPersistence, ErrRender
// or ErrDelivery. A failed archive write is logged and does not fail the issue.
func (p *Processor) Issue(ctx context.Context, collection, businessKey string, payload models.InvoicePayload) (*IssueResult, error) {
	return p.issue(ctx, collection, businessKey, payload, nil)
}

// Deliver renders payload and mails it without writing a document record.
// Errors wrap ErrRender or ErrDelivery.
func (p *Processor) Deliver(ctx context.Context, payload models.InvoicePayload) (*IssueResult, error) {
	key := payload.Invoice.DealNumber
	if key == "" {
		key = payload.Invoice.Number
	}
	logCtx := slog.With("invoiceNumber", payload.Invoice.Number, "dealNumber", payload.Invoice.DealNumber)
	return p.deliver(ctx, logCtx, key, payload, &IssueResult{}, nil)
}

// issue reports every step it enters through onStep, so a caller recovering
// from a panic knows where it happened.
func (p *Processor) issue(ctx context.Context, collection, businessKey string, payload models.InvoicePayload, onStep func(string)) (*IssueResult, error) {
	logCtx := slog.With("collection", collection, "businessKey", businessKey, "invoiceNumber", payload.Invoice.Number)

	type upserted struct {
		isNew bool
		id    string
	}
	enter(onStep, StepPersisting)
	rec, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) (upserted, error) {
		isNew, id, err := p.store.Records(collection).Upsert(ctx, businessKey, payload)
		return upserted{isNew: isNew, id: id}, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	logCtx.Info("Document record upserted.", "recordId", rec.id, "isNew", rec.isNew)

	return p.deliver(ctx, logCtx, businessKey, payload, &IssueResult{RecordID: rec.id, IsNew: rec.isNew}, onStep)
}

func (p *Processor) deliver(ctx context.Context, logCtx *slog.Logger, archiveKey string, payload models.InvoicePayload, result *IssueResult, onStep func(string)) (*IssueResult, error) {
	enter(onStep, StepRendering)
	pdf, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) ([]byte, error) {
		return p.renderer.Render(ctx, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	result.Filename = render.Filename(payload)
	result.PDF = pdf
	result.Recipients = notify.Recipients(payload.RecipientEmails)
	result.Total = invoice.Compute(payload).InclVAT.StringFixed(2)

	if p.archiver != nil {
		prefix := fmt.Sprintf("%s/%s", payload.Kind, archiveKey)
		uri, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) (string, error) {
			return p.archiver.Archive(ctx, prefix, pdf)
		})
		if err != nil {
			logCtx.Warn("Failed to archive rendered document, continuing.", "error", err)
		} else {
			result.ArchiveURI = uri
		}
	}

	enter(onStep, StepSending)
	msg := composeMessage(payload, result)
	receipt, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) (notify.Receipt, error) {
		return p.sender.Send(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	result.Receipt = receipt
	logCtx.Info("Document delivered.", "recipients", result.Recipients, "messageId", receipt.ID)

	return result, nil
}

func enter(onStep func(string), step string) {
	if onStep != nil {
		onStep(step)
	}
}

func composeMessage(payload models.InvoicePayload, result *IssueResult) notify.Message {
	title := "Proforma Invoice"
	if payload.Kind == models.KindTax {
		title = "Tax Invoice"
	}

	text := fmt.Sprintf("Dear %s,\n\nPlease find attached your %s.\n\n"+
		"Invoice Number: %s\nDate of Issuing: %s\nDeal Number: %s\nTotal Amount (AED): %s",
		payload.IssuedTo.Name, title, payload.Invoice.Number, payload.Invoice.DateOfIssuing,
		payload.Invoice.DealNumber, result.Total)

	return notify.Message{
		To:      result.Recipients,
		Subject: fmt.Sprintf("%s %s - %s", title, payload.Invoice.Number, payload.IssuedTo.Name),
		Text:    text,
		Attachment: notify.Attachment{
			Name:    result.Filename,
			Content: result.PDF,
		},
	}
}

// runStep bounds one external call with its own timeout.
func runStep[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}
