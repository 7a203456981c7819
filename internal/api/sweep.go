package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// pubSubEnvelope is the data of a Pub/Sub CloudEvent. Data is base64 in the
// JSON and decoded into raw bytes here.
type pubSubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// SweepPipeline runs one batch for the pipeline named in a scheduled event.
// The event data is either a Pub/Sub message wrapping {"pipeline": ...} or
// that object itself.
func (h *Handlers) SweepPipeline(ctx context.Context, e cloudevents.Event) error {
	sweep, err := decodeSweep(e.Data())
	if err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return err
	}
	logCtx := slog.With("pipeline", sweep.Pipeline, "eventId", e.ID())

	run, err := h.deps.Runner.NewRun(ctx, sweep.Pipeline)
	if err != nil {
		logCtx.Error("Failed to create sweep run.", "error", err)
		return err
	}

	// Failures are recorded on the run by the runner.
	if _, err := h.deps.Runner.Execute(ctx, sweep.Pipeline, run.ID); err != nil {
		return err
	}
	logCtx.Info("Sweep completed.", "runId", run.ID)
	return nil
}

func decodeSweep(data []byte) (models.SweepEvent, error) {
	var sweep models.SweepEvent

	var envelope pubSubEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Message.Data) > 0 {
		data = envelope.Message.Data
	}
	if err := json.Unmarshal(data, &sweep); err != nil {
		return sweep, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if sweep.Pipeline == "" {
		return sweep, fmt.Errorf("sweep event names no pipeline")
	}
	return sweep, nil
}
