package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// MongoBackend stores records keyed by _id = business key.
type MongoBackend struct {
	client         *mongo.Client
	db             *mongo.Database
	runsCollection string
	now            func() time.Time
}

// NewMongoBackend connects and pings before returning.
func NewMongoBackend(ctx context.Context, uri, database, runsCollection string) (*MongoBackend, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoBackend{
		client:         client,
		db:             client.Database(database),
		runsCollection: runsCollection,
		now:            time.Now,
	}, nil
}

func (b *MongoBackend) Records(collection string) RecordStore {
	return &mongoRecords{coll: b.db.Collection(collection), now: b.now}
}

func (b *MongoBackend) Runs() RunStore {
	return &mongoRuns{coll: b.db.Collection(b.runsCollection), now: b.now}
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}

type mongoRecords struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (s *mongoRecords) Upsert(ctx context.Context, businessKey string, payload models.InvoicePayload) (bool, string, error) {
	id := documentID(businessKey)
	if id == "" {
		return false, "", errEmptyKey
	}

	now := s.now()
	update := bson.M{
		"$set": bson.M{
			"business_key": businessKey,
			"payload":      payload,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on insert; the loser retries as an update.
		res, err = s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, opts)
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to upsert record %s: %w", businessKey, err)
	}
	return res.UpsertedCount == 1, id, nil
}

func (s *mongoRecords) FindByKey(ctx context.Context, businessKey string) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": documentID(businessKey)}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("record %s: %w", businessKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", businessKey, err)
	}
	return &rec, nil
}

type mongoRuns struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (s *mongoRuns) Create(ctx context.Context, run *models.BatchRun) error {
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now
	if _, err := s.coll.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *mongoRuns) Get(ctx context.Context, id string) (*models.BatchRun, error) {
	var run models.BatchRun
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *mongoRuns) set(ctx context.Context, id string, fields bson.M) error {
	fields["updatedAt"] = s.now()
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *mongoRuns) SetStatus(ctx context.Context, id, status, errorDetails string) error {
	fields := bson.M{"status": status}
	if errorDetails != "" {
		fields["errorDetails"] = errorDetails
	}
	return s.set(ctx, id, fields)
}

func (s *mongoRuns) SetExecution(ctx context.Context, id, executionID string) error {
	return s.set(ctx, id, bson.M{"workflowExecutionId": executionID})
}

func (s *mongoRuns) Complete(ctx context.Context, id string, summary *models.BatchSummary) error {
	return s.set(ctx, id, bson.M{"status": models.RunCompleted, "summary": summary})
}

func (s *mongoRuns) Recent(ctx context.Context, pipeline string, limit int) ([]models.BatchRun, error) {
	filter := bson.M{}
	if pipeline != "" {
		filter["pipeline"] = pipeline
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cur.Close(ctx)

	var runs []models.BatchRun
	if err := cur.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	return runs, nil
}
