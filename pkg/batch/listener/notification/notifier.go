package notification

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/ports"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// LogNotifier is a Notifier that only logs finished runs.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() ports.Notifier {
	logger.Infof("Notification: Initializing log notifier.")
	return &LogNotifier{}
}

// NotifyRunCompletion logs the outcome of run. Completed runs log at info level, everything else at warn.
func (n *LogNotifier) NotifyRunCompletion(ctx context.Context, task *model.TaskInfo, run *model.Run) {
	logMessage(task, run)
}

var _ ports.Notifier = (*LogNotifier)(nil)

// Message renders the notification text for run.
func Message(task *model.TaskInfo, run *model.Run) string {
	duration := time.Duration(0)
	if run.EndTime != nil {
		duration = run.EndTime.Sub(run.StartTime).Round(time.Millisecond)
	}
	msg := fmt.Sprintf(
		"Run Notification: Task '%s' (Run: %s, File: %s) finished with Status: %s. Rows: %d-%d, Success: %d, Errors: %d, Duration: %s",
		task.ID, run.ID, task.DataFile, run.Status, run.StartPosition, run.EndPosition, run.SuccessCount, run.ErrorCount, duration,
	)
	if run.LastError != "" {
		msg += ", LastError: " + run.LastError
	}
	return msg
}

func logMessage(task *model.TaskInfo, run *model.Run) {
	if run.Status == model.RunStatusCompleted {
		logger.Infof("%s", Message(task, run))
	} else {
		logger.Warnf("%s", Message(task, run))
	}
}
