package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/pipeline"
	"github.com/Lllllllleong/invoiceflow/internal/store"
)

var testPipelines = models.PipelineSet{
	"proforma": {Name: "proforma", Kind: models.KindProforma, Collection: "proforma_invoices", BatchLimit: 3},
	"tax":      {Name: "tax", Kind: models.KindTax, Collection: "tax_invoices", BatchLimit: 3},
}

type mockProcessor struct {
	mu       sync.Mutex
	err      error
	panicMsg string
	release  chan struct{}
	ran      []string
}

func (m *mockProcessor) RunBatch(ctx context.Context, pl models.Pipeline) (*models.BatchSummary, error) {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	m.ran = append(m.ran, pl.Name)
	m.mu.Unlock()

	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &models.BatchSummary{Pipeline: pl.Name, Found: 2, Attempted: 2, Succeeded: 2}, nil
}

type mockScheduler struct {
	err       error
	scheduled []*models.BatchRun
}

func (m *mockScheduler) Schedule(ctx context.Context, run *models.BatchRun) error {
	m.scheduled = append(m.scheduled, run)
	return m.err
}

type mockExecutions struct {
	err error
	req *executionspb.CreateExecutionRequest
}

func (m *mockExecutions) CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &executionspb.Execution{Name: "projects/p/locations/l/workflows/w/executions/e1"}, nil
}

func TestBatchRunner_ExecuteCompletesRun(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	runner := NewBatchRunner(&mockProcessor{}, backend.Runs(), testPipelines)

	run, err := runner.NewRun(ctx, "Proforma")
	require.NoError(t, err)
	assert.Equal(t, models.RunScheduled, run.Status)
	assert.Equal(t, "proforma", run.Pipeline)

	summary, err := runner.Execute(ctx, run.Pipeline, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)

	got, err := runner.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 2, got.Summary.Attempted)
}

func TestBatchRunner_ExecuteRecordsFailures(t *testing.T) {
	tests := []struct {
		name      string
		processor *mockProcessor
		pipeline  string
		wantErr   error
		inDetails string
	}{
		{"source unavailable", &mockProcessor{err: pipeline.ErrSourceUnavailable}, "proforma", pipeline.ErrSourceUnavailable, "candidate source unavailable"},
		{"panic", &mockProcessor{panicMsg: "boom"}, "proforma", nil, "boom"},
		{"unknown pipeline", &mockProcessor{}, "credit-note", ErrUnknownPipeline, "unknown pipeline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := store.NewMemoryBackend()
			runs := backend.Runs()
			require.NoError(t, runs.Create(ctx, &models.BatchRun{ID: "r1", Pipeline: tt.pipeline, Status: models.RunScheduled}))

			runner := NewBatchRunner(tt.processor, runs, testPipelines)
			summary, err := runner.Execute(ctx, tt.pipeline, "r1")
			assert.Nil(t, summary)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			got, err := runs.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, models.RunFailed, got.Status)
			assert.Contains(t, got.ErrorDetails, tt.inDetails)
		})
	}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		pipeline  string
		schedErr  error
		wantErr   error
		scheduled int
	}{
		{"accepted", "s3cret", "tax", nil, nil, 1},
		{"bad token", "wrong", "tax", nil, pipeline.ErrUnauthorized, 0},
		{"empty token", "", "tax", nil, pipeline.ErrUnauthorized, 0},
		{"unknown pipeline", "s3cret", "refund", nil, ErrUnknownPipeline, 0},
		{"scheduler down", "s3cret", "proforma", errors.New("quota"), nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := store.NewMemoryBackend()
			runner := NewBatchRunner(&mockProcessor{}, backend.Runs(), testPipelines)
			sched := &mockScheduler{err: tt.schedErr}
			svc := NewTriggerService("s3cret", testPipelines, runner, sched)

			resp, err := svc.Trigger(ctx, tt.pipeline, tt.token)
			assert.Len(t, sched.scheduled, tt.scheduled)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
			case tt.schedErr != nil:
				require.Error(t, err)
				got, getErr := runner.Get(ctx, sched.scheduled[0].ID)
				require.NoError(t, getErr)
				assert.Equal(t, models.RunFailed, got.Status)
			default:
				require.NoError(t, err)
				assert.Equal(t, "accepted", resp.Status)
				assert.Equal(t, sched.scheduled[0].ID, resp.RunID)
				got, getErr := runner.Get(ctx, resp.RunID)
				require.NoError(t, getErr)
				assert.Equal(t, models.RunScheduled, got.Status)
			}
		})
	}
}

func TestTrigger_LocalSchedulerDoesNotBlock(t *testing.T) {
	backend := store.NewMemoryBackend()
	proc := &mockProcessor{release: make(chan struct{})}
	runner := NewBatchRunner(proc, backend.Runs(), testPipelines)
	local := NewLocalScheduler(runner, time.Minute)
	svc := NewTriggerService("s3cret", testPipelines, runner, local)

	reqCtx, cancel := context.WithCancel(context.Background())
	resp, err := svc.Trigger(reqCtx, "proforma", "s3cret")
	require.NoError(t, err)
	// The request finishing must not cancel the scheduled run.
	cancel()

	got, err := runner.Get(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, models.RunCompleted, got.Status)

	close(proc.release)
	local.Wait()

	got, err = runner.Get(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, []string{"proforma"}, proc.ran)
}

func TestWorkflowScheduler(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	runs := backend.Runs()
	run := &models.BatchRun{ID: "r1", Pipeline: "tax", Status: models.RunScheduled}
	require.NoError(t, runs.Create(ctx, run))

	client := &mockExecutions{}
	sched := NewWorkflowScheduler(client, runs, "proj", "us-central1", "invoice-batch")
	require.NoError(t, sched.Schedule(ctx, run))

	assert.Equal(t, "projects/proj/locations/us-central1/workflows/invoice-batch", client.req.Parent)
	assert.JSONEq(t, `{"pipeline":"tax","runId":"r1"}`, client.req.Execution.Argument)

	got, err := runs.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/l/workflows/w/executions/e1", got.WorkflowExecutionID)

	client.err = errors.New("permission denied")
	assert.Error(t, sched.Schedule(ctx, run))
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("abc", "abc"))
	assert.False(t, TokenMatches("abc", "abd"))
	assert.False(t, TokenMatches("", ""))
}
