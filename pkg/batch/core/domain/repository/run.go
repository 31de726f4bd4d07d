package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// RunRepository stores per-invocation run history.
type RunRepository interface {
	// SaveRun persists a new run.
	SaveRun(ctx context.Context, run *model.Run) error

	// UpdateRun updates an existing run.
	UpdateRun(ctx context.Context, run *model.Run) error

	// FindRunByID finds a run by its id.
	FindRunByID(ctx context.Context, id string) (*model.Run, error)

	// FindRunsByTaskID returns the runs of a task, oldest first.
	FindRunsByTaskID(ctx context.Context, taskID string) ([]*model.Run, error)

	// Close releases resources such as database connections.
	Close() error
}

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = errors.New("run not found")

func init() {
	exception.RegisterErrorType("ErrRunNotFound", ErrRunNotFound)
}
