package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// A run span is the root; every batch is a child span of its run.
type OpenTelemetryTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOpenTelemetryTracer builds a tracer from configuration. Without an endpoint
// spans are created and ended in process but not exported.
func NewOpenTelemetryTracer(ctx context.Context, cfg config.TracingConfig) (*OpenTelemetryTracer, error) {
	var opts []sdktrace.TracerProviderOption
	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Infof("Tracing: exporting spans to %s.", cfg.Endpoint)
	}
	return NewOpenTelemetryTracerWith(cfg.ServiceName, opts...), nil
}

// NewOpenTelemetryTracerWith builds a tracer from explicit provider options.
func NewOpenTelemetryTracerWith(serviceName string, opts ...sdktrace.TracerProviderOption) *OpenTelemetryTracer {
	opts = append(opts, sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))))
	provider := sdktrace.NewTracerProvider(opts...)
	return &OpenTelemetryTracer{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}
}

// Shutdown flushes pending spans.
func (t *OpenTelemetryTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// StartRunSpan starts the root span of a run.
func (t *OpenTelemetryTracer) StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "promptbatch.run", trace.WithAttributes(
		attribute.String("task.id", run.TaskID),
		attribute.String("run.id", run.ID),
		attribute.Int("run.start_position", run.StartPosition),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("run.status", run.Status.String()),
			attribute.Int("run.end_position", run.EndPosition),
			attribute.Int("run.success_count", run.SuccessCount),
			attribute.Int("run.error_count", run.ErrorCount),
		)
		if run.Status == model.RunStatusError {
			span.SetStatus(codes.Error, run.LastError)
		}
		span.End()
	}
}

// StartBatchSpan starts a child span for one batch.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, taskID string, position, size int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "promptbatch.batch", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("batch.position", position),
		attribute.Int("batch.size", size),
	))
	return ctx, func() { span.End() }
}

// RecordError records err on the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent adds an event to the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
