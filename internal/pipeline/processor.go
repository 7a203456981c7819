// Package pipeline runs the batch that turns CRM deals into delivered
// invoices, isolating every candidate's failure from the rest of the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/invoiceflow/internal/crm"
	"github.com/Lllllllleong/invoiceflow/internal/invoice"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/notify"
	"github.com/Lllllllleong/invoiceflow/internal/observability"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// SourceClient is the external system candidates are selected from.
type SourceClient interface {
	ListCandidates(ctx context.Context, criteria models.SelectionCriteria) ([]models.CandidateRecord, error)
	FetchRelated(ctx context.Context, candidate models.CandidateRecord) (*models.RelatedEntities, error)
	MarkProcessed(ctx context.Context, candidateID, marker string) error
}

type Renderer interface {
	Render(ctx context.Context, payload models.InvoicePayload) ([]byte, error)
}

type Sender interface {
	Send(ctx context.Context, msg notify.Message) (notify.Receipt, error)
}

type Archiver interface {
	Archive(ctx context.Context, prefix string, content []byte) (string, error)
}

// Steps of the per-candidate state machine, as reported in outcomes.
const (
	StepFetching   = "fetching"
	StepBuilding   = "building"
	StepPersisting = "persisting"
	StepRendering  = "rendering"
	StepSending    = "sending"
	StepMarking    = "marking"
)

type Config struct {
	// StepTimeout bounds every external call.
	StepTimeout time.Duration
	// Concurrency caps how many candidates are processed at once.
	Concurrency int
}

// Deps are the collaborators of a Processor. Source is only required for
// batch runs and Archiver and Metrics are optional.
type Deps struct {
	Source   SourceClient
	Store    store.Backend
	Renderer Renderer
	Sender   Sender
	Archiver Archiver
	Builder  *invoice.Builder
	Metrics  *observability.Recorder
	Now      func() time.Time
}

type Processor struct {
	source   SourceClient
	store    store.Backend
	renderer Renderer
	sender   Sender
	archiver Archiver
	builder  *invoice.Builder
	metrics  *observability.Recorder
	now      func() time.Time
	config   Config
}

func NewProcessor(deps Deps, cfg Config) *Processor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Builder == nil {
		deps.Builder = invoice.NewBuilder()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Processor{
		source:   deps.Source,
		store:    deps.Store,
		renderer: deps.Renderer,
		sender:   deps.Sender,
		archiver: deps.Archiver,
		builder:  deps.Builder,
		metrics:  deps.Metrics,
		now:      deps.Now,
		config:   cfg,
	}
}

// RunBatch selects the pipeline's candidates, drops those already marked,
// processes at most BatchLimit of them and summarizes the outcomes. Only a
// selection failure returns an error.
func (p *Processor) RunBatch(ctx context.Context, pl models.Pipeline) (*models.BatchSummary, error) {
	logCtx := slog.With("pipeline", pl.Name)
	if p.source == nil {
		return nil, fmt.Errorf("%w: no source client configured", ErrSourceUnavailable)
	}

	summary := &models.BatchSummary{
		Pipeline:  pl.Name,
		Outcomes:  []models.ProcessingOutcome{},
		StartedAt: p.now(),
	}

	// Every run re-lists the whole status from scratch; no cursor is kept.
	// TODO: persist a cursor per pipeline once a status holds more than the
	// ten pages the CRM client will read.
	candidates, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) ([]models.CandidateRecord, error) {
		return p.source.ListCandidates(ctx, pl.Selection)
	})
	if err != nil {
		p.metrics.BatchRun(ctx, pl.Name, "source_unavailable")
		logCtx.Error("Candidate selection failed, aborting batch.", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	summary.Found = len(candidates)

	eligible := make([]models.CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasMarker(pl.Marker) {
			eligible = append(eligible, c)
		}
	}
	summary.Eligible = len(eligible)

	bounded := eligible
	if pl.BatchLimit > 0 && len(bounded) > pl.BatchLimit {
		bounded = bounded[:pl.BatchLimit]
	}
	summary.Attempted = len(bounded)

	logCtx.Info("Starting batch.",
		"found", summary.Found,
		"eligible", summary.Eligible,
		"attempted", summary.Attempted,
		"concurrency", p.config.Concurrency,
	)

	// Each goroutine owns its slot, so outcomes keep selection order.
	outcomes := make([]models.ProcessingOutcome, len(bounded))
	g := new(errgroup.Group)
	g.SetLimit(p.config.Concurrency)
	for i, candidate := range bounded {
		g.Go(func() error {
			outcomes[i] = p.processCandidate(ctx, pl, candidate)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		summary.Add(o)
		p.metrics.Candidate(ctx, pl.Name, string(o.Status))
	}
	summary.FinishedAt = p.now()
	p.metrics.BatchRun(ctx, pl.Name, "completed")

	logCtx.Info("Batch finished.",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"warnings", summary.Warnings,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)
	return summary, nil
}

func (p *Processor) processCandidate(ctx context.Context, pl models.Pipeline, candidate models.CandidateRecord) (out models.ProcessingOutcome) {
	logCtx := slog.With("pipeline", pl.Name, "candidateId", candidate.ID)
	out.CandidateID = candidate.ID

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Panic while processing candidate.", "panic", r)
			out = failed(candidate.ID, out.Step, fmt.Errorf("panic: %v", r))
		}
	}()

	out.Step = StepFetching
	related, err := runStep(ctx, p.config.StepTimeout, func(ctx context.Context) (*models.RelatedEntities, error) {
		return p.source.FetchRelated(ctx, candidate)
	})
	if errors.Is(err, crm.ErrNotFound) {
		return skipped(logCtx, candidate.ID, StepFetching, fmt.Errorf("%w: %w", ErrCandidateIneligible, err))
	}
	if err != nil {
		logCtx.Error("Failed to fetch related entities.", "error", err)
		return failed(candidate.ID, StepFetching, err)
	}
	if reason := missingEntity(related); reason != "" {
		return skipped(logCtx, candidate.ID, StepFetching, fmt.Errorf("%w: %s", ErrCandidateIneligible, reason))
	}

	out.Step = StepBuilding
	payload, err := p.builder.Build(pl, candidate, related)
	if err != nil {
		return skipped(logCtx, candidate.ID, StepBuilding, fmt.Errorf("%w: %w", ErrCandidateIneligible, err))
	}
	key := invoice.BusinessKey(candidate)
	logCtx = logCtx.With("businessKey", key)

	_, err = p.issue(ctx, pl.Collection, key, payload, func(step string) { out.Step = step })
	if err != nil {
		logCtx.Error("Candidate failed, processed marker not written.", "step", out.Step, "error", err)
		return failed(candidate.ID, out.Step, err)
	}

	out.Step = StepMarking
	err = runStepErr(ctx, p.config.StepTimeout, func(ctx context.Context) error {
		return p.source.MarkProcessed(ctx, candidate.ID, pl.Marker)
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMarkerWrite, err)
		logCtx.Error("Document sent but processed marker not written; candidate will be selected again.",
			"duplicateRisk", true,
			"marker", pl.Marker,
			"error", err,
		)
		p.metrics.MarkerWriteFailure(ctx, pl.Name)
		return models.ProcessingOutcome{
			CandidateID: candidate.ID,
			Status:      models.OutcomeSucceededWithWarning,
			Step:        StepMarking,
			Reason:      err.Error(),
			DocumentKey: key,
		}
	}

	logCtx.Info("Candidate processed.")
	return models.ProcessingOutcome{
		CandidateID: candidate.ID,
		Status:      models.OutcomeSucceeded,
		DocumentKey: key,
	}
}

func missingEntity(related *models.RelatedEntities) string {
	switch {
	case related == nil || related.Contact == nil:
		return "no linked contact"
	case related.Contact.Email == "":
		return "contact has no email address"
	case len(related.Products) == 0:
		return "no line items"
	}
	return ""
}

func skipped(logCtx *slog.Logger, candidateID, step string, err error) models.ProcessingOutcome {
	logCtx.Warn("Skipping candidate, it stays eligible for the next run.", "step", step, "reason", err)
	return models.ProcessingOutcome{
		CandidateID: candidateID,
		Status:      models.OutcomeSkipped,
		Step:        step,
		Reason:      err.Error(),
	}
}

func failed(candidateID, step string, err error) models.ProcessingOutcome {
	return models.ProcessingOutcome{
		CandidateID: candidateID,
		Status:      models.OutcomeFailed,
		Step:        step,
		Reason:      err.Error(),
	}
}

func runStepErr(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := runStep(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
