// Package observability wires OpenTelemetry metrics with a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Recorder counts batch and candidate outcomes. A nil *Recorder records nothing.
type Recorder struct {
	runs           otelmetric.Int64Counter
	candidates     otelmetric.Int64Counter
	markerFailures otelmetric.Int64Counter
}

// NewRecorder creates the counters on the global meter provider.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter("github.com/Lllllllleong/invoiceflow")

	runs, err := meter.Int64Counter("invoiceflow.batch.runs",
		otelmetric.WithDescription("Batch runs by pipeline and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch runs counter: %w", err)
	}
	candidates, err := meter.Int64Counter("invoiceflow.candidates",
		otelmetric.WithDescription("Processed candidates by pipeline and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create candidates counter: %w", err)
	}
	markerFailures, err := meter.Int64Counter("invoiceflow.marker.write_failures",
		otelmetric.WithDescription("Processed-marker writes that failed after a document was sent"))
	if err != nil {
		return nil, fmt.Errorf("failed to create marker failures counter: %w", err)
	}

	return &Recorder{runs: runs, candidates: candidates, markerFailures: markerFailures}, nil
}

func (r *Recorder) BatchRun(ctx context.Context, pipeline, result string) {
	if r == nil {
		return
	}
	r.runs.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("result", result),
	))
}

func (r *Recorder) Candidate(ctx context.Context, pipeline, status string) {
	if r == nil {
		return
	}
	r.candidates.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	))
}

func (r *Recorder) MarkerWriteFailure(ctx context.Context, pipeline string) {
	if r == nil {
		return
	}
	r.markerFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("pipeline", pipeline)))
}
