// Package port defines the interfaces (ports) between the batch engine and its collaborators.
package port

import (
	"context"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// RetriesExhaustedError is returned by a Provider that gave up after Retries repeated attempts.
type RetriesExhaustedError struct {
	Retries int
	Err     error
}

func (e *RetriesExhaustedError) Error() string { return e.Err.Error() }

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// Provider performs one outbound API request per row.
type Provider interface {
	// MakeRequest sends the prompt pair. A nil result with a nil error means the
	// provider produced no usable output (non-retryable status, unparsable body,
	// application-level failure). An error means the retry budget was exhausted.
	MakeRequest(ctx context.Context, system, user string) (*model.APIResult, error)

	// APIType returns the provider variant name.
	APIType() string
}

// ProviderFactory builds a provider for a request's API configuration.
type ProviderFactory interface {
	NewProvider(cfg model.APIConfig) (Provider, error)
}

// ProgressTracker is the durable progress state of one task. Every mutation is
// persisted before it returns.
type ProgressTracker interface {
	LoadProgress() (bool, error)
	SetTotalRows(n int) error
	UpdatePosition(position int) error
	RecordSuccess(rows []model.ResultRow) error
	RecordError(index int, originalContent, message string, retryCount int) error
	RecordSkipped(n int) error
	MarkPaused() error
	MarkProcessing() error
	MarkCompleted() error
	MarkError(message string) error
	GetProgress() model.Progress
	OutputFiles() model.OutputFiles
}

// ProgressStore opens trackers and reads persisted progress of inactive tasks.
type ProgressStore interface {
	Open(taskID string, files model.OutputFiles) (ProgressTracker, error)
	Read(files model.OutputFiles) (*model.Progress, error)
}

// ResultExporter converts a task's results file to another format.
type ResultExporter interface {
	Export(ctx context.Context, files model.OutputFiles) (*model.ExportResult, error)
}

// Reporter receives human-oriented progress messages from the orchestrator.
type Reporter interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Success(format string, args ...interface{})
}

// EventListener observes orchestrator events. Implementations must not block for long;
// they run on the orchestrator goroutine.
type EventListener interface {
	OnEvent(ctx context.Context, event model.Event)
}

// RunListener is notified around each orchestrator run.
type RunListener interface {
	BeforeRun(ctx context.Context, run *model.Run)
	AfterRun(ctx context.Context, run *model.Run)
}

// BatchListener is notified around each batch.
type BatchListener interface {
	BeforeBatch(ctx context.Context, taskID string, position, size int)
	AfterBatch(ctx context.Context, taskID string, outcomes []model.RowOutcome)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(ctx context.Context, event model.Event)

// OnEvent implements EventListener.
func (f EventListenerFunc) OnEvent(ctx context.Context, event model.Event) {
	f(ctx, event)
}
