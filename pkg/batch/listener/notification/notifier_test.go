package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

func TestMessage(t *testing.T) {
	task := &model.TaskInfo{ID: "task_1", DataFile: "/data/people.csv"}
	run := model.NewRun("task_1", 5, nil)
	run.Finish(model.RunStatusError, 7, 1, 1, "disk full")

	msg := Message(task, run)
	assert.Contains(t, msg, "Task 'task_1'")
	assert.Contains(t, msg, "Status: error")
	assert.Contains(t, msg, "Rows: 5-7")
	assert.Contains(t, msg, "LastError: disk full")

	running := model.NewRun("task_1", 0, nil)
	running.StartTime = time.Now()
	assert.Contains(t, Message(task, running), "Duration: 0s")

	NewLogNotifier().NotifyRunCompletion(context.Background(), task, run)
}
