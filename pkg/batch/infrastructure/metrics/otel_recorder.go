package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
)

const instrumentationName = "github.com/tigerroll/promptbatch"

// OTelRecorder records the same measurements as PrometheusRecorder through an OpenTelemetry meter.
type OTelRecorder struct {
	provider *sdkmetric.MeterProvider

	runs             otelmetric.Int64Counter
	runDuration      otelmetric.Float64Histogram
	batchDuration    otelmetric.Float64Histogram
	rows             otelmetric.Int64Counter
	providerRequests otelmetric.Int64Counter
	providerLatency  otelmetric.Float64Histogram
	providerRetries  otelmetric.Int64Counter
	operations       otelmetric.Float64Histogram
}

// NewOTLPRecorder pushes metrics to an OTLP/HTTP collector.
func NewOTLPRecorder(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*OTelRecorder, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return NewOTelRecorder(sdkmetric.NewPeriodicReader(exporter), serviceName)
}

// NewOTelRecorder builds a recorder over reader.
func NewOTelRecorder(reader sdkmetric.Reader, serviceName string) (*OTelRecorder, error) {
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	meter := provider.Meter(instrumentationName)

	r := &OTelRecorder{provider: provider}
	var err error
	if r.runs, err = meter.Int64Counter("promptbatch.runs", otelmetric.WithDescription("Finished or paused runs.")); err != nil {
		return nil, err
	}
	if r.runDuration, err = meter.Float64Histogram("promptbatch.run.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.batchDuration, err = meter.Float64Histogram("promptbatch.batch.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.rows, err = meter.Int64Counter("promptbatch.rows", otelmetric.WithDescription("Processed rows.")); err != nil {
		return nil, err
	}
	if r.providerRequests, err = meter.Int64Counter("promptbatch.provider.requests"); err != nil {
		return nil, err
	}
	if r.providerLatency, err = meter.Float64Histogram("promptbatch.provider.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.providerRetries, err = meter.Int64Counter("promptbatch.provider.retries"); err != nil {
		return nil, err
	}
	if r.operations, err = meter.Float64Histogram("promptbatch.operation.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

// Shutdown flushes and stops the meter provider.
func (r *OTelRecorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

func (r *OTelRecorder) RecordRunStart(ctx context.Context, run *model.Run) {}

func (r *OTelRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {
	status := otelmetric.WithAttributes(attribute.String("status", run.Status.String()))
	r.runs.Add(ctx, 1, status)
	end := run.LastUpdated
	if run.EndTime != nil {
		end = *run.EndTime
	}
	r.runDuration.Record(ctx, end.Sub(run.StartTime).Seconds(), status)
}

func (r *OTelRecorder) RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration) {
	r.batchDuration.Record(ctx, duration.Seconds())
}

func (r *OTelRecorder) RecordRowSuccess(ctx context.Context, taskID string) {
	r.rows.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", "success")))
}

func (r *OTelRecorder) RecordRowError(ctx context.Context, taskID string, reason string) {
	r.rows.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", "error"),
		attribute.String("reason", reason),
	))
}

func (r *OTelRecorder) RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration) {
	r.providerRequests.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("api_type", apiType),
		attribute.String("outcome", outcome),
	))
	r.providerLatency.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attribute.String("api_type", apiType)))
}

func (r *OTelRecorder) RecordProviderRetry(ctx context.Context, apiType string, reason string) {
	r.providerRetries.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("api_type", apiType),
		attribute.String("reason", reason),
	))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("name", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operations.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)

// fanoutRecorder forwards every measurement to each recorder in order.
type fanoutRecorder []metrics.MetricRecorder

func (f fanoutRecorder) RecordRunStart(ctx context.Context, run *model.Run) {
	for _, r := range f {
		r.RecordRunStart(ctx, run)
	}
}

func (f fanoutRecorder) RecordRunEnd(ctx context.Context, run *model.Run) {
	for _, r := range f {
		r.RecordRunEnd(ctx, run)
	}
}

func (f fanoutRecorder) RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration) {
	for _, r := range f {
		r.RecordBatch(ctx, taskID, size, duration)
	}
}

func (f fanoutRecorder) RecordRowSuccess(ctx context.Context, taskID string) {
	for _, r := range f {
		r.RecordRowSuccess(ctx, taskID)
	}
}

func (f fanoutRecorder) RecordRowError(ctx context.Context, taskID string, reason string) {
	for _, r := range f {
		r.RecordRowError(ctx, taskID, reason)
	}
}

func (f fanoutRecorder) RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration) {
	for _, r := range f {
		r.RecordProviderRequest(ctx, apiType, outcome, duration)
	}
}

func (f fanoutRecorder) RecordProviderRetry(ctx context.Context, apiType string, reason string) {
	for _, r := range f {
		r.RecordProviderRetry(ctx, apiType, reason)
	}
}

func (f fanoutRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range f {
		r.RecordDuration(ctx, name, duration, tags)
	}
}
