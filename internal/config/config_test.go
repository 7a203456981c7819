package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

func baseEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "hook-secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SCHEDULER", "local")
	t.Setenv("KOMMO_SUBDOMAIN", "")
	t.Setenv("KOMMO_ACCESS_TOKEN", "")
}

func TestLoad_RequiresWebhookSecret(t *testing.T) {
	baseEnv(t)
	t.Setenv("WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")
}

func TestLoad_DefaultValues(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 1, cfg.BatchConcurrency)
	assert.Equal(t, 30*time.Second, cfg.StepTimeout)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.Equal(t, "batch_runs", cfg.RunsCollection)

	proforma, ok := cfg.Pipeline("Proforma")
	require.True(t, ok)
	assert.Equal(t, models.KindProforma, proforma.Kind)
	assert.Equal(t, 3, proforma.BatchLimit)
	assert.Equal(t, "proforma_invoices", proforma.Collection)
	assert.Equal(t, "00PI25-", proforma.NumberPrefix)

	tax, ok := cfg.Pipeline("tax")
	require.True(t, ok)
	assert.Equal(t, models.KindTax, tax.Kind)
	assert.Equal(t, 5, tax.NumberWidth)

	_, ok = cfg.Pipeline("credit-note")
	assert.False(t, ok)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	baseEnv(t)
	t.Setenv("BATCH_LIMIT", "5")
	t.Setenv("BATCH_CONCURRENCY", "2")
	t.Setenv("STEP_TIMEOUT", "5s")
	t.Setenv("KOMMO_PIPELINE_ID", "100")
	t.Setenv("PROFORMA_STATUS_ID", "200")
	t.Setenv("PROFORMA_MARKER", "PI done")

	cfg, err := Load()
	require.NoError(t, err)

	p, _ := cfg.Pipeline("proforma")
	assert.Equal(t, 5, p.BatchLimit)
	assert.Equal(t, models.SelectionCriteria{PipelineID: "100", StatusID: "200"}, p.Selection)
	assert.Equal(t, "PI done", p.Marker)
	assert.Equal(t, 2, cfg.BatchConcurrency)
	assert.Equal(t, 5*time.Second, cfg.StepTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric batch limit", "BATCH_LIMIT", "three"},
		{"zero batch limit", "BATCH_LIMIT", "0"},
		{"zero concurrency", "BATCH_CONCURRENCY", "0"},
		{"bad duration", "RUN_TIMEOUT", "forever"},
		{"unknown backend", "STORE_BACKEND", "postgres"},
		{"unknown scheduler", "SCHEDULER", "cron"},
		{"firestore without project", "STORE_BACKEND", "firestore"},
		{"mongo without url", "STORE_BACKEND", "mongo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseEnv(t)
			t.Setenv("PROJECT_ID", "")
			t.Setenv("MONGO_URL", "")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_KommoRequiresSelectionIDs(t *testing.T) {
	full := map[string]string{
		"KOMMO_PIPELINE_ID":  "100",
		"PROFORMA_STATUS_ID": "200",
		"TAX_STATUS_ID":      "300",
	}
	for missing := range full {
		t.Run(missing, func(t *testing.T) {
			baseEnv(t)
			t.Setenv("KOMMO_SUBDOMAIN", "acme")
			t.Setenv("KOMMO_ACCESS_TOKEN", "token")
			for k, v := range full {
				t.Setenv(k, v)
			}
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}

	t.Run("all set", func(t *testing.T) {
		baseEnv(t)
		t.Setenv("KOMMO_SUBDOMAIN", "acme")
		t.Setenv("KOMMO_ACCESS_TOKEN", "token")
		for k, v := range full {
			t.Setenv(k, v)
		}

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "300", cfg.Pipelines["tax"].Selection.StatusID)
	})
}
