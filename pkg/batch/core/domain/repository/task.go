package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// TaskRepository persists task identity and lifecycle metadata.
type TaskRepository interface {
	// CreateTask allocates a task id and directory for dataFile and cfg and writes its metadata.
	CreateTask(ctx context.Context, dataFile string, cfg model.IdentityConfig, selectedFields []int) (*model.TaskInfo, error)

	// FindResumableTask returns the first non-completed task whose data file identity and
	// configuration hash match, or nil when there is none.
	FindResumableTask(ctx context.Context, dataFile string, cfg model.IdentityConfig) (*model.TaskInfo, error)

	// GetTask loads a task by id.
	GetTask(ctx context.Context, taskID string) (*model.TaskInfo, error)

	// UpdateTaskStatus persists a new status for the task.
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error

	// ListTasks returns every task, newest first.
	ListTasks(ctx context.Context) ([]model.TaskSummary, error)

	// CleanupOldTasks deletes tasks created more than maxAgeDays ago, whatever their status,
	// and returns how many were removed.
	CleanupOldTasks(ctx context.Context, maxAgeDays int) (int, error)

	// FindFile resolves a file name inside any task directory.
	FindFile(ctx context.Context, name string) (string, error)
}

// ErrTaskNotFound is returned when no task exists for an id.
var ErrTaskNotFound = errors.New("task not found")

// ErrFileNotFound is returned when a requested output file does not exist.
var ErrFileNotFound = errors.New("file not found")

func init() {
	exception.RegisterErrorType("ErrTaskNotFound", ErrTaskNotFound)
	exception.RegisterErrorType("ErrFileNotFound", ErrFileNotFound)
}
