package ports

import (
	"context"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Notifier notifies external systems about finished runs.
type Notifier interface {
	// NotifyRunCompletion is called once per run that reached a terminal or paused state.
	NotifyRunCompletion(ctx context.Context, task *model.TaskInfo, run *model.Run)
}
