package logging

import (
	"context"
	"fmt"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// --- Reporter ---

// Reporter writes orchestrator messages to the application logger.
type Reporter struct{}

// NewReporter creates a Reporter.
func NewReporter() port.Reporter {
	return &Reporter{}
}

func (r *Reporter) Info(format string, args ...interface{}) { logger.Infof(format, args...) }
func (r *Reporter) Warn(format string, args ...interface{}) { logger.Warnf(format, args...) }
func (r *Reporter) Error(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// Success is logged at info level with a marker so it stands out in console output.
func (r *Reporter) Success(format string, args ...interface{}) {
	logger.Infof("[OK] %s", fmt.Sprintf(format, args...))
}

var _ port.Reporter = (*Reporter)(nil)

// --- Run Listener ---

type LoggingRunListener struct{}

func NewLoggingRunListener() port.RunListener {
	return &LoggingRunListener{}
}

func (l *LoggingRunListener) BeforeRun(ctx context.Context, run *model.Run) {
	logger.Infof("RunListener: BeforeRun - Task: %s, Run: %s, StartPosition: %d, Params: %+v", run.TaskID, run.ID, run.StartPosition, run.Parameters)
}

func (l *LoggingRunListener) AfterRun(ctx context.Context, run *model.Run) {
	logger.Infof("RunListener: AfterRun - Task: %s, Run: %s, Status: %s, Rows: %d-%d, Success: %d, Errors: %d",
		run.TaskID, run.ID, run.Status, run.StartPosition, run.EndPosition, run.SuccessCount, run.ErrorCount)
}

var _ port.RunListener = (*LoggingRunListener)(nil)

// --- Batch Listener ---

type LoggingBatchListener struct{}

func NewLoggingBatchListener() port.BatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) BeforeBatch(ctx context.Context, taskID string, position, size int) {
	logger.Debugf("BatchListener: BeforeBatch - Task: %s, Position: %d, Size: %d", taskID, position, size)
}

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, taskID string, outcomes []model.RowOutcome) {
	var ok, failed, skipped int
	for _, o := range outcomes {
		switch {
		case o.Success:
			ok++
		case o.Skipped:
			skipped++
		default:
			failed++
			logger.Debugf("BatchListener: row %d failed (%s): %s", o.Index, o.Reason, o.Error)
		}
	}
	logger.Debugf("BatchListener: AfterBatch - Task: %s, Success: %d, Errors: %d, Skipped: %d", taskID, ok, failed, skipped)
}

var _ port.BatchListener = (*LoggingBatchListener)(nil)

// --- Event Listener ---

type LoggingEventListener struct{}

func NewLoggingEventListener() port.EventListener {
	return &LoggingEventListener{}
}

func (l *LoggingEventListener) OnEvent(ctx context.Context, event model.Event) {
	switch event.Type {
	case model.EventProgress:
		if event.Progress != nil {
			logger.Debugf("Event: %s - Task: %s, %d/%d (%d%%)", event.Type, event.TaskID,
				event.Progress.ProcessedRows, event.Progress.TotalRows, event.Progress.Progress)
		}
	case model.EventFailed:
		logger.Warnf("Event: %s - Task: %s, Error: %s", event.Type, event.TaskID, event.Error)
	default:
		logger.Infof("Event: %s - Task: %s, Run: %s", event.Type, event.TaskID, event.RunID)
	}
}

var _ port.EventListener = (*LoggingEventListener)(nil)
