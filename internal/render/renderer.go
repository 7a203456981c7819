// Package render turns invoice payloads into PDF documents with pdfcpu.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// PDFRenderer renders payloads through pdfcpu's JSON create pipeline.
type PDFRenderer struct {
	conf *model.Configuration
}

func NewPDFRenderer() *PDFRenderer {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &PDFRenderer{conf: cfg}
}

type renderResult struct {
	pdf []byte
	err error
}

// Render returns the PDF bytes for p. pdfcpu is not context aware, so the
// render runs on its own goroutine and ctx only bounds the wait.
func (r *PDFRenderer) Render(ctx context.Context, p models.InvoicePayload) ([]byte, error) {
	desc := Layout(p)
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page description: %w", err)
	}

	done := make(chan renderResult, 1)
	go func() {
		pdf, err := r.create(raw, len(desc.Pages))
		done <- renderResult{pdf: pdf, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to render invoice %s: %w", p.Invoice.Number, res.err)
		}
		return res.pdf, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("render of invoice %s aborted: %w", p.Invoice.Number, ctx.Err())
	}
}

func (r *PDFRenderer) create(raw []byte, wantPages int) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(raw), &buf, r.conf); err != nil {
		return nil, err
	}

	pageCount, err := api.PageCount(bytes.NewReader(buf.Bytes()), r.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read back rendered PDF: %w", err)
	}
	if pageCount != wantPages {
		return nil, fmt.Errorf("rendered PDF has %d pages, expected %d", pageCount, wantPages)
	}
	return buf.Bytes(), nil
}
