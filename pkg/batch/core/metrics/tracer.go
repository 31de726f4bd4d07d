package metrics

import (
	"context"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Tracer integrates the engine with a distributed tracing system.
type Tracer interface {
	// StartRunSpan starts a span covering a whole run. The returned function ends it.
	StartRunSpan(ctx context.Context, run *model.Run) (context.Context, func())

	// StartBatchSpan starts a child span for the batch beginning at position with size rows.
	StartBatchSpan(ctx context.Context, taskID string, position, size int) (context.Context, func())

	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent adds a named event to the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
