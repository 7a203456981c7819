package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// MemoryBackend keeps everything in process. It backs local runs and tests.
type MemoryBackend struct {
	mu          sync.Mutex
	collections map[string]map[string]models.DocumentRecord
	runs        map[string]models.BatchRun

	// Now is the clock used for timestamps.
	Now func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]map[string]models.DocumentRecord),
		runs:        make(map[string]models.BatchRun),
		Now:         time.Now,
	}
}

func (b *MemoryBackend) Records(collection string) RecordStore {
	return &memoryRecords{backend: b, collection: collection}
}

func (b *MemoryBackend) Runs() RunStore { return &memoryRuns{backend: b} }

func (b *MemoryBackend) Close() error { return nil }

// Count returns the number of records held in a collection.
func (b *MemoryBackend) Count(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.collections[collection])
}

type memoryRecords struct {
	backend    *MemoryBackend
	collection string
}

func (s *memoryRecords) Upsert(ctx context.Context, businessKey string, payload models.InvoicePayload) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	id := documentID(businessKey)
	if id == "" {
		return false, "", errEmptyKey
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	coll, ok := b.collections[s.collection]
	if !ok {
		coll = make(map[string]models.DocumentRecord)
		b.collections[s.collection] = coll
	}

	now := b.Now()
	existing, found := coll[id]
	rec := models.DocumentRecord{
		ID:          id,
		BusinessKey: businessKey,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if found {
		rec.CreatedAt = existing.CreatedAt
	}
	coll[id] = rec
	return !found, id, nil
}

func (s *memoryRecords) FindByKey(ctx context.Context, businessKey string) (*models.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.collections[s.collection][documentID(businessKey)]
	if !ok {
		return nil, fmt.Errorf("record %s in %s: %w", businessKey, s.collection, ErrNotFound)
	}
	return &rec, nil
}

type memoryRuns struct {
	backend *MemoryBackend
}

func (s *memoryRuns) Create(ctx context.Context, run *models.BatchRun) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	now := b.Now()
	run.CreatedAt, run.UpdatedAt = now, now
	b.runs[run.ID] = *run
	return nil
}

func (s *memoryRuns) Get(ctx context.Context, id string) (*models.BatchRun, error) {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return &run, nil
}

func (s *memoryRuns) update(id string, mutate func(*models.BatchRun)) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	mutate(&run)
	run.UpdatedAt = b.Now()
	b.runs[id] = run
	return nil
}

func (s *memoryRuns) SetStatus(ctx context.Context, id, status, errorDetails string) error {
	return s.update(id, func(r *models.BatchRun) {
		r.Status = status
		r.ErrorDetails = errorDetails
	})
}

func (s *memoryRuns) SetExecution(ctx context.Context, id, executionID string) error {
	return s.update(id, func(r *models.BatchRun) { r.WorkflowExecutionID = executionID })
}

func (s *memoryRuns) Complete(ctx context.Context, id string, summary *models.BatchSummary) error {
	return s.update(id, func(r *models.BatchRun) {
		r.Status = models.RunCompleted
		r.Summary = summary
	})
}

func (s *memoryRuns) Recent(ctx context.Context, pipeline string, limit int) ([]models.BatchRun, error) {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.BatchRun
	for _, r := range b.runs {
		if pipeline == "" || r.Pipeline == pipeline {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
