package usecase

import (
	"context"
	"errors"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// TaskOperator is the control surface over the batch engine. Only one task runs at a time.
type TaskOperator interface {
	// StartTask validates req, resolves the task to create or resume and starts processing
	// it in the background. Validation failures are returned before any task is created.
	StartTask(ctx context.Context, req model.StartRequest) (string, error)

	// GetTaskStatus returns live progress for the active task, persisted progress otherwise,
	// and a report with Status "not_found" for unknown ids.
	GetTaskStatus(ctx context.Context, taskID string) (*model.StatusReport, error)

	// PauseTask suspends the active task at the next batch boundary.
	PauseTask(ctx context.Context, taskID string) error

	// ResumeTask resumes a paused active task.
	ResumeTask(ctx context.Context, taskID string) error

	// StopTask ends the active run at the next batch boundary. The task stays resumable.
	StopTask(ctx context.Context, taskID string) error

	// ListTasks returns every task, newest first.
	ListTasks(ctx context.Context) ([]model.TaskSummary, error)

	// CleanupTasks deletes tasks older than maxAgeDays and returns how many were removed.
	CleanupTasks(ctx context.Context, maxAgeDays int) (int, error)

	// ListRuns returns the run history of a task, oldest first.
	ListRuns(ctx context.Context, taskID string) ([]*model.Run, error)

	// ExportResults converts the task's results file to Parquet.
	ExportResults(ctx context.Context, taskID string) (*model.ExportResult, error)
}

var (
	// ErrTaskAlreadyRunning is returned by StartTask while another task is active.
	ErrTaskAlreadyRunning = errors.New("a task is already running")

	// ErrTaskNotActive is returned by control operations addressed to a task that is not running.
	ErrTaskNotActive = errors.New("task is not active")
)

func init() {
	exception.RegisterErrorType("ErrTaskAlreadyRunning", ErrTaskAlreadyRunning)
	exception.RegisterErrorType("ErrTaskNotActive", ErrTaskNotActive)
}
