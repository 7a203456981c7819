package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestInitMetrics(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	require.NoError(t, err)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	assert.NotEmpty(t, scrape(t, handler))
}

func TestRecorder_CountersAppearInOutput(t *testing.T) {
	ctx := context.Background()

	handler, shutdown, err := InitMetrics()
	require.NoError(t, err)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	rec, err := NewRecorder()
	require.NoError(t, err)

	rec.BatchRun(ctx, "proforma", "completed")
	rec.Candidate(ctx, "proforma", "succeeded")
	rec.Candidate(ctx, "proforma", "succeeded")
	rec.MarkerWriteFailure(ctx, "tax")

	body := scrape(t, handler)
	assert.Contains(t, body, "runs")
	assert.Contains(t, body, "candidates")
	assert.Contains(t, body, "write_failures")
	assert.Contains(t, body, `pipeline="tax"`)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.BatchRun(context.Background(), "p", "r")
		rec.Candidate(context.Background(), "p", "s")
		rec.MarkerWriteFailure(context.Background(), "p")
	})
}
