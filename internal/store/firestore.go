package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// FirestoreBackend stores records with the business key as the document ID,
// so a second write for the same key can only ever update.
type FirestoreBackend struct {
	client         *firestore.Client
	runsCollection string
	now            func() time.Time
}

func NewFirestoreBackend(client *firestore.Client, runsCollection string) *FirestoreBackend {
	return &FirestoreBackend{client: client, runsCollection: runsCollection, now: time.Now}
}

func (b *FirestoreBackend) Records(collection string) RecordStore {
	return &firestoreRecords{client: b.client, coll: b.client.Collection(collection), now: b.now}
}

func (b *FirestoreBackend) Runs() RunStore {
	return &firestoreRuns{coll: b.client.Collection(b.runsCollection), now: b.now}
}

func (b *FirestoreBackend) Close() error { return b.client.Close() }

type firestoreRecords struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	now    func() time.Time
}

func (s *firestoreRecords) Upsert(ctx context.Context, businessKey string, payload models.InvoicePayload) (bool, string, error) {
	id := documentID(businessKey)
	if id == "" {
		return false, "", errEmptyKey
	}
	ref := s.coll.Doc(id)

	var isNew bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		isNew = false
		now := s.now()

		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			isNew = true
			return tx.Create(ref, models.DocumentRecord{
				BusinessKey: businessKey,
				Payload:     payload,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "businessKey", Value: businessKey},
			{Path: "payload", Value: payload},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to upsert record %s: %w", businessKey, err)
	}
	return isNew, ref.ID, nil
}

func (s *firestoreRecords) FindByKey(ctx context.Context, businessKey string) (*models.DocumentRecord, error) {
	snap, err := s.coll.Doc(documentID(businessKey)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("record %s: %w", businessKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", businessKey, err)
	}

	var rec models.DocumentRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", businessKey, err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

type firestoreRuns struct {
	coll *firestore.CollectionRef
	now  func() time.Time
}

func (s *firestoreRuns) Create(ctx context.Context, run *models.BatchRun) error {
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now
	if _, err := s.coll.Doc(run.ID).Create(ctx, run); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *firestoreRuns) Get(ctx context.Context, id string) (*models.BatchRun, error) {
	snap, err := s.coll.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	var run models.BatchRun
	if err := snap.DataTo(&run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	run.ID = snap.Ref.ID
	return &run, nil
}

func (s *firestoreRuns) update(ctx context.Context, id string, updates []firestore.Update) error {
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: s.now()})
	_, err := s.coll.Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	return nil
}

func (s *firestoreRuns) SetStatus(ctx context.Context, id, runStatus, errorDetails string) error {
	updates := []firestore.Update{{Path: "status", Value: runStatus}}
	if errorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errorDetails})
	}
	return s.update(ctx, id, updates)
}

func (s *firestoreRuns) SetExecution(ctx context.Context, id, executionID string) error {
	return s.update(ctx, id, []firestore.Update{{Path: "workflowExecutionId", Value: executionID}})
}

func (s *firestoreRuns) Complete(ctx context.Context, id string, summary *models.BatchSummary) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "status", Value: models.RunCompleted},
		{Path: "summary", Value: summary},
	})
}

func (s *firestoreRuns) Recent(ctx context.Context, pipeline string, limit int) ([]models.BatchRun, error) {
	q := s.coll.OrderBy("createdAt", firestore.Desc)
	if pipeline != "" {
		q = s.coll.Where("pipeline", "==", pipeline).OrderBy("createdAt", firestore.Desc)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var runs []models.BatchRun
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate runs: %w", err)
		}
		var run models.BatchRun
		if err := doc.DataTo(&run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", doc.Ref.ID, err)
		}
		run.ID = doc.Ref.ID
		runs = append(runs, run)
	}
	return runs, nil
}
