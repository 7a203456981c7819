package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
)

// TriggerService accepts webhook triggers and schedules one batch run each.
type TriggerService struct {
	secret    string
	pipelines models.PipelineSet
	runner    *BatchRunner
	scheduler Scheduler
}

func NewTriggerService(secret string, pipelines models.PipelineSet, runner *BatchRunner, scheduler Scheduler) *TriggerService {
	return &TriggerService{secret: secret, pipelines: pipelines, runner: runner, scheduler: scheduler}
}

// Trigger validates token and schedules a batch for the named pipeline. It
// never waits for the batch itself.
func (t *TriggerService) Trigger(ctx context.Context, pipelineName, token string) (*models.TriggerResponse, error) {
	if !TokenMatches(token, t.secret) {
		return nil, pipeline.ErrUnauthorized
	}
	pl, ok := t.pipelines.Lookup(pipelineName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName)
	}

	run, err := t.runner.NewRun(ctx, pl.Name)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("pipeline", pl.Name, "runId", run.ID)

	if err := t.scheduler.Schedule(ctx, run); err != nil {
		return nil, t.runner.handleError(ctx, logCtx, run.ID, "failed to schedule batch run", err)
	}
	logCtx.Info("Batch run scheduled.")

	return &models.TriggerResponse{
		Status:   "accepted",
		Message:  "batch run scheduled",
		Pipeline: pl.Name,
		RunID:    run.ID,
	}, nil
}

// TokenMatches compares a caller token with the configured secret in
// constant time. An empty secret matches nothing.
func TokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
