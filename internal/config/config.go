// Package config loads the runtime configuration and the pipeline definitions
// from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/invoiceflow/internal/gcp"
	"github.com/Lllllllleong/invoiceflow/internal/models"
)

const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendMemory    = "memory"

	SchedulerLocal     = "local"
	SchedulerWorkflows = "workflows"
)

// Config holds all configuration values for the invoicer.
type Config struct {
	Port      string
	ProjectID string

	// Record and run storage
	StoreBackend   string
	DatabaseID     string
	MongoURL       string
	MongoDatabase  string
	RunsCollection string
	ArchiveBucket  string

	// Shared secrets
	WebhookSecret  string
	APISecretToken string
	InternalSecret string

	// CRM
	KommoSubdomain   string
	KommoAccessToken string
	KommoRateLimit   float64

	// Email
	ResendAPIKey string
	FromEmail    string

	// Scheduling
	Scheduler        string
	WorkflowID       string
	WorkflowLocation string

	BatchConcurrency int
	StepTimeout      time.Duration
	RunTimeout       time.Duration

	Pipelines models.PipelineSet
}

// Pipeline returns the named pipeline definition.
func (c *Config) Pipeline(name string) (models.Pipeline, bool) {
	return c.Pipelines.Lookup(name)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             gcp.GetEnv("PORT", "8080"),
		ProjectID:        gcp.GetEnv("PROJECT_ID", ""),
		StoreBackend:     strings.ToLower(gcp.GetEnv("STORE_BACKEND", BackendFirestore)),
		DatabaseID:       gcp.GetEnv("FIRESTORE_DATABASE", ""),
		MongoURL:         gcp.GetEnv("MONGO_URL", ""),
		MongoDatabase:    gcp.GetEnv("MONGO_DATABASE", "invoices"),
		RunsCollection:   gcp.GetEnv("RUNS_COLLECTION", "batch_runs"),
		ArchiveBucket:    gcp.GetEnv("ARCHIVE_BUCKET", ""),
		WebhookSecret:    gcp.GetEnv("WEBHOOK_SECRET", ""),
		APISecretToken:   gcp.GetEnv("API_SECRET_TOKEN", ""),
		InternalSecret:   gcp.GetEnv("INTERNAL_SECRET", ""),
		KommoSubdomain:   gcp.GetEnv("KOMMO_SUBDOMAIN", ""),
		KommoAccessToken: gcp.GetEnv("KOMMO_ACCESS_TOKEN", ""),
		ResendAPIKey:     gcp.GetEnv("RESEND_API_KEY", ""),
		FromEmail:        gcp.GetEnv("FROM_EMAIL", "invoices@example.com"),
		Scheduler:        strings.ToLower(gcp.GetEnv("SCHEDULER", SchedulerLocal)),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	var err error
	if cfg.KommoRateLimit, err = floatEnv("KOMMO_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.BatchConcurrency, err = intEnv("BATCH_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.StepTimeout, err = durationEnv("STEP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = durationEnv("RUN_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	batchLimit, err := intEnv("BATCH_LIMIT", 3)
	if err != nil {
		return nil, err
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if batchLimit < 1 {
		return nil, fmt.Errorf("BATCH_LIMIT must be at least 1, got %d", batchLimit)
	}
	if cfg.BatchConcurrency < 1 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", cfg.BatchConcurrency)
	}

	switch cfg.StoreBackend {
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("PROJECT_ID is required for the firestore backend")
		}
	case BackendMongo:
		if cfg.MongoURL == "" {
			return nil, fmt.Errorf("MONGO_URL is required for the mongo backend")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.Scheduler {
	case SchedulerLocal:
	case SchedulerWorkflows:
		if cfg.ProjectID == "" || cfg.WorkflowID == "" {
			return nil, fmt.Errorf("PROJECT_ID and WORKFLOW_ID are required for the workflows scheduler")
		}
	default:
		return nil, fmt.Errorf("unknown SCHEDULER %q", cfg.Scheduler)
	}

	crmPipelineID := gcp.GetEnv("KOMMO_PIPELINE_ID", "")
	cfg.Pipelines = models.PipelineSet{
		"proforma": {
			Name: "proforma",
			Kind: models.KindProforma,
			Selection: models.SelectionCriteria{
				PipelineID: crmPipelineID,
				StatusID:   gcp.GetEnv("PROFORMA_STATUS_ID", ""),
			},
			Marker:       gcp.GetEnv("PROFORMA_MARKER", "Proforma Sent"),
			BatchLimit:   batchLimit,
			Collection:   gcp.GetEnv("PROFORMA_COLLECTION", "proforma_invoices"),
			NumberPrefix: "00PI25-",
			NumberWidth:  8,
		},
		"tax": {
			Name: "tax",
			Kind: models.KindTax,
			Selection: models.SelectionCriteria{
				PipelineID: crmPipelineID,
				StatusID:   gcp.GetEnv("TAX_STATUS_ID", ""),
			},
			Marker:       gcp.GetEnv("TAX_MARKER", "Tax Invoice Sent"),
			BatchLimit:   batchLimit,
			Collection:   gcp.GetEnv("TAX_COLLECTION", "tax_invoices"),
			NumberPrefix: "TAXZS-",
			NumberWidth:  5,
		},
	}

	// An empty filter would make the CRM return every lead in the account.
	if cfg.KommoSubdomain != "" && cfg.KommoAccessToken != "" {
		if crmPipelineID == "" {
			return nil, fmt.Errorf("KOMMO_PIPELINE_ID is required when Kommo is configured")
		}
		for _, key := range []string{"PROFORMA_STATUS_ID", "TAX_STATUS_ID"} {
			if gcp.GetEnv(key, "") == "" {
				return nil, fmt.Errorf("%s is required when Kommo is configured", key)
			}
		}
	}

	return cfg, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
