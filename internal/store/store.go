package store

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// ErrNotFound is returned when no record or run exists for the requested key.
var ErrNotFound = errors.New("not found")

// RecordStore persists one document record per business key.
type RecordStore interface {
	// Upsert creates the record for businessKey or overwrites its payload,
	// preserving the original creation time. isNew reports which happened.
	Upsert(ctx context.Context, businessKey string, payload models.InvoicePayload) (isNew bool, id string, err error)
	FindByKey(ctx context.Context, businessKey string) (*models.DocumentRecord, error)
}

// RunStore tracks batch runs from scheduling to completion.
type RunStore interface {
	Create(ctx context.Context, run *models.BatchRun) error
	Get(ctx context.Context, id string) (*models.BatchRun, error)
	SetStatus(ctx context.Context, id, status, errorDetails string) error
	SetExecution(ctx context.Context, id, executionID string) error
	Complete(ctx context.Context, id string, summary *models.BatchSummary) error
	Recent(ctx context.Context, pipeline string, limit int) ([]models.BatchRun, error)
}

// Backend hands out record stores per collection and the run store.
type Backend interface {
	Records(collection string) RecordStore
	Runs() RunStore
	Close() error
}

var errEmptyKey = errors.New("business key must not be empty")

// documentID maps a business key onto a valid document identifier. The
// mapping is injective: distinct keys never share a document, and "/" is
// escaped rather than replaced.
func documentID(key string) string {
	id := url.PathEscape(strings.TrimSpace(key))
	if strings.Trim(id, ".") == "" {
		// Firestore rejects "." and ".." as IDs.
		id = strings.ReplaceAll(id, ".", "%2E")
	}
	return id
}
