package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

var (
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrInvalidRequest  = errors.New("invalid request")
)

// BatchProcessor runs one batch for a pipeline.
type BatchProcessor interface {
	RunBatch(ctx context.Context, pl models.Pipeline) (*models.BatchSummary, error)
}

// BatchRunner executes batch runs and keeps their run records current:
// SCHEDULED, then RUNNING, then COMPLETED or FAILED.
type BatchRunner struct {
	processor BatchProcessor
	runs      store.RunStore
	pipelines models.PipelineSet
}

func NewBatchRunner(processor BatchProcessor, runs store.RunStore, pipelines models.PipelineSet) *BatchRunner {
	return &BatchRunner{processor: processor, runs: runs, pipelines: pipelines}
}

// NewRun records a SCHEDULED run for the pipeline.
func (b *BatchRunner) NewRun(ctx context.Context, pipelineName string) (*models.BatchRun, error) {
	pl, ok := b.pipelines.Lookup(pipelineName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName)
	}
	run := &models.BatchRun{
		ID:       uuid.New().String(),
		Pipeline: pl.Name,
		Status:   models.RunScheduled,
	}
	if err := b.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create batch run: %w", err)
	}
	return run, nil
}

// Execute runs the batch for an existing run record. Failures, including
// panics, are written to the run record before being returned.
func (b *BatchRunner) Execute(ctx context.Context, pipelineName, runID string) (summary *models.BatchSummary, err error) {
	logCtx := slog.With("pipeline", pipelineName, "runId", runID)

	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = b.handleError(ctx, logCtx, runID, "panic during batch run", fmt.Errorf("%v", r))
		}
	}()

	pl, ok := b.pipelines.Lookup(pipelineName)
	if !ok {
		return nil, b.handleError(ctx, logCtx, runID, "cannot run batch", fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName))
	}

	if err := b.runs.SetStatus(ctx, runID, models.RunRunning, ""); err != nil {
		return nil, fmt.Errorf("failed to mark run %s as running: %w", runID, err)
	}
	logCtx.Info("Batch run started.")

	summary, err = b.processor.RunBatch(ctx, pl)
	if err != nil {
		return nil, b.handleError(ctx, logCtx, runID, "batch run failed", err)
	}

	if err := b.complete(ctx, runID, summary); err != nil {
		logCtx.Error("CRITICAL: Failed to record batch summary after a completed run.", "updateError", err)
	}
	logCtx.Info("Batch run completed.",
		"succeeded", summary.Succeeded,
		"warnings", summary.Warnings,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (b *BatchRunner) handleError(ctx context.Context, logCtx *slog.Logger, runID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := b.updateStatus(ctx, runID, models.RunFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update run status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// Get returns a run record.
func (b *BatchRunner) Get(ctx context.Context, runID string) (*models.BatchRun, error) {
	return b.runs.Get(ctx, runID)
}

// Recent lists the latest runs, optionally for one pipeline.
func (b *BatchRunner) Recent(ctx context.Context, pipelineName string, limit int) ([]models.BatchRun, error) {
	return b.runs.Recent(ctx, pipelineName, limit)
}

func (b *BatchRunner) updateStatus(ctx context.Context, runID, status, errDetails string) error {
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	return b.runs.SetStatus(ctx, runID, status, errDetails)
}

func (b *BatchRunner) complete(ctx context.Context, runID string, summary *models.BatchSummary) error {
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	return b.runs.Complete(ctx, runID, summary)
}

// bookkeepingContext outlives a cancelled or timed-out run so its final
// status can still be written.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
