// Package observability provides OpenTelemetry metrics exported in Prometheus format.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/kiranshivaraju/alttext"

// InitMetrics installs a global MeterProvider backed by a Prometheus exporter.
// It returns the /metrics handler and a shutdown function for application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the instruments recorded by the queue processor and batch manager.
// Instruments come from the global MeterProvider, so they are no-ops until
// InitMetrics has run.
type Metrics struct {
	jobs       metric.Int64Counter
	generation metric.Float64Histogram
	batches    metric.Int64Counter
	applied    metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	jobs, err := meter.Int64Counter("alttext_jobs_processed_total",
		metric.WithDescription("Jobs attempted, by outcome (completed, retry, failed)."))
	if err != nil {
		return nil, err
	}
	generation, err := meter.Float64Histogram("alttext_generation_duration_seconds",
		metric.WithDescription("Time spent in the description generator per job."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	batches, err := meter.Int64Counter("alttext_batches_finished_total",
		metric.WithDescription("Processing passes finished, by final batch status."))
	if err != nil {
		return nil, err
	}
	applied, err := meter.Int64Counter("alttext_descriptions_applied_total",
		metric.WithDescription("Descriptions written back to the media library."))
	if err != nil {
		return nil, err
	}

	return &Metrics{jobs: jobs, generation: generation, batches: batches, applied: applied}, nil
}

func (m *Metrics) JobFinished(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.jobs.Add(ctx, 1, attrs)
	m.generation.Record(ctx, seconds, attrs)
}

func (m *Metrics) BatchFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) Applied(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.applied.Add(ctx, int64(n))
}
