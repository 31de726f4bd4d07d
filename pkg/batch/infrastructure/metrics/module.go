// Package metrics provides the Prometheus, OpenTelemetry and asynchronous
// implementations of the engine's observability ports.
package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// NewMetricRecorder builds the recorder the engine uses: Prometheus, plus OTLP when an
// endpoint is configured, behind an asynchronous queue. Disabled metrics yield a no-op.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.Config, prom *PrometheusRecorder) (metrics.MetricRecorder, error) {
	mc := cfg.PromptBatch.Metrics
	if !mc.Enabled {
		logger.Infof("Metrics disabled.")
		return metrics.NewNoOpMetricRecorder(), nil
	}

	recorders := fanoutRecorder{prom}
	if mc.OTLPEndpoint != "" {
		otlp, err := NewOTLPRecorder(context.Background(), mc, cfg.PromptBatch.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: otlp.Shutdown})
		recorders = append(recorders, otlp)
		logger.Infof("Metrics: pushing OTLP metrics to %s.", mc.OTLPEndpoint)
	}

	var backend metrics.MetricRecorder = recorders
	if len(recorders) == 1 {
		backend = prom
	}
	async := NewAsyncMetricRecorder(mc.AsyncBufferSize, backend)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		},
	})
	return async, nil
}

// NewTracer builds the tracer from promptbatch.tracing.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.PromptBatch.Tracing
	if !tc.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	tracer, err := NewOpenTelemetryTracer(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tracer.Shutdown})
	return tracer, nil
}

// Module provides the Prometheus registry owner, the MetricRecorder and the Tracer.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
