package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
// It is used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordRunStart(ctx context.Context, run *model.Run) {}
func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, run *model.Run)   {}
func (r *NoOpMetricRecorder) RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordRowSuccess(ctx context.Context, taskID string)             {}
func (r *NoOpMetricRecorder) RecordRowError(ctx context.Context, taskID string, reason string) {}
func (r *NoOpMetricRecorder) RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordProviderRetry(ctx context.Context, apiType string, reason string) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, taskID string, position, size int) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
