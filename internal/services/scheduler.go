package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// Scheduler hands a batch run off so the caller can return immediately.
type Scheduler interface {
	Schedule(ctx context.Context, run *models.BatchRun) error
}

// LocalScheduler runs batches on tracked goroutines inside this process.
// Runs are detached from the triggering request and bounded by timeout.
type LocalScheduler struct {
	runner  *BatchRunner
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewLocalScheduler(runner *BatchRunner, timeout time.Duration) *LocalScheduler {
	return &LocalScheduler{runner: runner, timeout: timeout}
}

func (s *LocalScheduler) Schedule(ctx context.Context, run *models.BatchRun) error {
	runCtx := context.WithoutCancel(ctx)
	pipelineName, runID := run.Pipeline, run.ID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(runCtx, s.timeout)
		defer cancel()

		// Errors are already written to the run record.
		_, _ = s.runner.Execute(ctx, pipelineName, runID)
	}()
	return nil
}

// Wait blocks until every scheduled run has finished.
func (s *LocalScheduler) Wait() {
	s.wg.Wait()
}

// ExecutionsClient is the part of the Workflows executions client used here.
type ExecutionsClient interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowScheduler starts a Cloud Workflows execution per run. The workflow
// calls back into RunBatch with the same {pipeline, runId} argument.
type WorkflowScheduler struct {
	client ExecutionsClient
	runs   store.RunStore
	parent string
}

func NewWorkflowScheduler(client ExecutionsClient, runs store.RunStore, projectID, location, workflowID string) *WorkflowScheduler {
	return &WorkflowScheduler{
		client: client,
		runs:   runs,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (s *WorkflowScheduler) Schedule(ctx context.Context, run *models.BatchRun) error {
	logCtx := slog.With("pipeline", run.Pipeline, "runId", run.ID)
	logCtx.Info("Triggering workflow.")

	payloadBytes, err := json.Marshal(models.RunBatchRequest{Pipeline: run.Pipeline, RunID: run.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: s.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := s.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}

	if err := s.runs.SetExecution(ctx, run.ID, exec.GetName()); err != nil {
		logCtx.Warn("Failed to record workflow execution on run.", "execution", exec.GetName(), "error", err)
	}
	return nil
}
