package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/invoiceflow/internal/config"
	"github.com/Lllllllleong/invoiceflow/internal/crm"
	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/invoice"
	"github.com/Lllllllleong/invoiceflow/internal/notify"
	"github.com/Lllllllleong/invoiceflow/internal/observability"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
	"github.com/Lllllllleong/invoiceflow/internal/render"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

// App holds every long-lived client and service of the invoicer.
type App struct {
	Config         *config.Config
	Store          store.Backend
	Processor      *pipeline.Processor
	Runner         *BatchRunner
	Trigger        *TriggerService
	Documents      *DocumentService
	MetricsHandler http.Handler

	local   *LocalScheduler
	closers []func(context.Context) error
}

// NewApp builds the clients named by cfg and wires the services together.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close(context.Background())
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return nil, err
	}
	app.MetricsHandler = metricsHandler
	app.closers = append(app.closers, shutdownMetrics)
	recorder, err := observability.NewRecorder()
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = backend
	app.closers = append(app.closers, func(context.Context) error { return backend.Close() })

	sender, err := notify.NewResendSender(cfg.ResendAPIKey, cfg.FromEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to create email sender: %w", err)
	}

	deps := pipeline.Deps{
		Store:    backend,
		Renderer: render.NewPDFRenderer(),
		Sender:   sender,
		Builder:  invoice.NewBuilder(),
		Metrics:  recorder,
	}

	if cfg.KommoSubdomain != "" && cfg.KommoAccessToken != "" {
		source, err := crm.NewKommoClient(crm.Config{
			Subdomain:   cfg.KommoSubdomain,
			AccessToken: cfg.KommoAccessToken,
			RateLimit:   cfg.KommoRateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kommo client: %w", err)
		}
		deps.Source = source
	} else {
		slog.Warn("Kommo is not configured; batch runs will fail at selection.")
	}

	if cfg.ArchiveBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return storageClient.Close() })
		deps.Archiver = gcp.NewArchiver(storageClient, cfg.ArchiveBucket)
	}

	app.Processor = pipeline.NewProcessor(deps, pipeline.Config{
		StepTimeout: cfg.StepTimeout,
		Concurrency: cfg.BatchConcurrency,
	})
	app.Runner = NewBatchRunner(app.Processor, backend.Runs(), cfg.Pipelines)
	app.Documents = NewDocumentService(app.Processor, backend, cfg.Pipelines)

	var scheduler Scheduler
	switch cfg.Scheduler {
	case config.SchedulerWorkflows:
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return executionsClient.Close() })
		scheduler = NewWorkflowScheduler(executionsClient, backend.Runs(), cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
	default:
		app.local = NewLocalScheduler(app.Runner, cfg.RunTimeout)
		scheduler = app.local
	}
	app.Trigger = NewTriggerService(cfg.WebhookSecret, cfg.Pipelines, app.Runner, scheduler)

	ok = true
	return app, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.DatabaseID)
		if err != nil {
			return nil, err
		}
		return store.NewFirestoreBackend(client, cfg.RunsCollection), nil
	case config.BackendMongo:
		return store.NewMongoBackend(ctx, cfg.MongoURL, cfg.MongoDatabase, cfg.RunsCollection)
	case config.BackendMemory:
		return store.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Health reports which collaborators are configured.
func (a *App) Health() map[string]any {
	return map[string]any{
		"status":       "healthy",
		"storeBackend": a.Config.StoreBackend,
		"scheduler":    a.Config.Scheduler,
		"kommo":        a.Config.KommoSubdomain != "" && a.Config.KommoAccessToken != "",
		"archive":      a.Config.ArchiveBucket != "",
		"email":        a.Config.ResendAPIKey != "",
	}
}

// Close waits for in-process runs and releases every client.
func (a *App) Close(ctx context.Context) error {
	if a.local != nil {
		a.local.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
