package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the release pipeline metrics:
// - Latency: how long stages and environment builds take
// - Traffic: stages executed and artifacts staged
// - Errors: stage failures by error kind
type Metrics struct {
	meter metric.Meter

	// Stage metrics (Latency, Traffic, Errors)
	StageDuration    metric.Float64Histogram
	StagesTotal      metric.Int64Counter
	StageErrorsTotal metric.Int64Counter

	// Build matrix metrics (Latency, Traffic)
	EnvironmentDuration metric.Float64Histogram
	ArtifactsStaged     metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("relcut")
	m := &Metrics{meter: meter}

	m.StageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagesTotal, err = meter.Int64Counter(
		"stages_total",
		metric.WithDescription("Total number of pipeline stages executed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageErrorsTotal, err = meter.Int64Counter(
		"stage_errors_total",
		metric.WithDescription("Total number of failed pipeline stages"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EnvironmentDuration, err = meter.Float64Histogram(
		"environment_duration_seconds",
		metric.WithDescription("Build environment duration in seconds, provisioning through collection"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ArtifactsStaged, err = meter.Int64Counter(
		"artifacts_staged_total",
		metric.WithDescription("Total number of artifacts staged for distribution"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordStage records one pipeline stage completing (success or failure).
// A nil receiver is a no-op so the pipeline works without a metrics server.
func (m *Metrics) RecordStage(ctx context.Context, stage string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(stageAttr(stage), successAttr(success))
	m.StageDuration.Record(ctx, durationSeconds, attrs)
	m.StagesTotal.Add(ctx, 1, attrs)

	if !success {
		m.StageErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordEnvironment records one build environment completing.
func (m *Metrics) RecordEnvironment(ctx context.Context, environment string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EnvironmentDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(environmentAttr(environment), successAttr(success)))
}

// RecordArtifact records one artifact entering staging.
func (m *Metrics) RecordArtifact(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ArtifactsStaged.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}
