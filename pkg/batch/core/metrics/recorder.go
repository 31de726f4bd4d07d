// Package metrics defines the observability ports used by the batch engine.
// Backends (Prometheus, OpenTelemetry) live in the infrastructure layer.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// MetricRecorder records metrics about task runs, batches, rows and provider calls.
type MetricRecorder interface {
	// RecordRunStart records the start of an orchestrator run.
	RecordRunStart(ctx context.Context, run *model.Run)

	// RecordRunEnd records the end of an orchestrator run, using run.Status as the outcome.
	RecordRunEnd(ctx context.Context, run *model.Run)

	// RecordBatch records one resolved batch of size rows.
	RecordBatch(ctx context.Context, taskID string, size int, duration time.Duration)

	// RecordRowSuccess records a row that produced a result.
	RecordRowSuccess(ctx context.Context, taskID string)

	// RecordRowError records a failed row. reason is a short classification such as "empty_content".
	RecordRowError(ctx context.Context, taskID string, reason string)

	// RecordProviderRequest records one HTTP attempt against an API provider.
	// outcome is the HTTP status code as text, or "transport_error".
	RecordProviderRequest(ctx context.Context, apiType string, outcome string, duration time.Duration)

	// RecordProviderRetry records a retry scheduled after a failed attempt.
	RecordProviderRetry(ctx context.Context, apiType string, reason string)

	// RecordDuration records the execution time of a named operation.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
