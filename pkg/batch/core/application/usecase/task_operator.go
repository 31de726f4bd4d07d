package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const operatorModule = "task_operator"

// activeTask is the execution currently owned by the operator.
type activeTask struct {
	exec    *Execution
	done    chan struct{}
	summary *model.Summary
	err     error
}

// DefaultTaskOperator runs at most one task at a time in the background.
type DefaultTaskOperator struct {
	orchestrator  *Orchestrator
	tasks         repository.TaskRepository
	runs          repository.RunRepository
	progress      port.ProgressStore
	exporter      port.ResultExporter
	retentionDays int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	starting bool
	active   *activeTask
	last     *activeTask
}

var _ TaskOperator = (*DefaultTaskOperator)(nil)

// NewDefaultTaskOperator creates a DefaultTaskOperator. retentionDays is used by
// CleanupTasks when no positive age is given.
func NewDefaultTaskOperator(
	orchestrator *Orchestrator,
	tasks repository.TaskRepository,
	runs repository.RunRepository,
	progress port.ProgressStore,
	exporter port.ResultExporter,
	retentionDays int,
) *DefaultTaskOperator {
	ctx, cancel := context.WithCancel(context.Background())
	return &DefaultTaskOperator{
		orchestrator:  orchestrator,
		tasks:         tasks,
		runs:          runs,
		progress:      progress,
		exporter:      exporter,
		retentionDays: retentionDays,
		baseCtx:       ctx,
		baseCancel:    cancel,
	}
}

// StartTask implements TaskOperator. The run outlives ctx; it ends with the
// window, a StopTask call or Shutdown.
func (o *DefaultTaskOperator) StartTask(ctx context.Context, req model.StartRequest) (string, error) {
	o.mu.Lock()
	if o.starting || o.active != nil {
		o.mu.Unlock()
		return "", exception.NewBatchError(operatorModule, "cannot start a new task", ErrTaskAlreadyRunning, false, false)
	}
	o.starting = true
	o.mu.Unlock()

	exec, err := o.orchestrator.Prepare(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.starting = false
	if err != nil {
		logger.Warnf("Start rejected for %s: %v", req.DataFile, err)
		return "", err
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)
	a := &activeTask{exec: exec, done: make(chan struct{})}
	o.active = a
	logger.Infof("Starting task %s (resumed: %t).", exec.Task.ID, exec.Resumed)

	go func() {
		defer cancel()
		summary, err := o.orchestrator.Execute(runCtx, exec)
		if err != nil {
			logger.Errorf("Task %s ended with error: %v", exec.Task.ID, err)
		}
		o.mu.Lock()
		a.summary, a.err = summary, err
		o.active = nil
		o.last = a
		o.mu.Unlock()
		close(a.done)
	}()
	return exec.Task.ID, nil
}

// GetTaskStatus implements TaskOperator.
func (o *DefaultTaskOperator) GetTaskStatus(ctx context.Context, taskID string) (*model.StatusReport, error) {
	if a := o.activeFor(taskID); a != nil {
		report := &model.StatusReport{
			TaskID:   taskID,
			Found:    true,
			Active:   true,
			IsPaused: a.exec.Control.IsPaused(),
			Status:   string(a.exec.Task.Status),
			Files:    &a.exec.Task.Files,
		}
		if p, ok := a.exec.Progress(); ok {
			snap := p.Snapshot(time.Now())
			report.Status = string(p.Status)
			report.Progress = &p
			report.Snapshot = &snap
		}
		return report, nil
	}

	task, err := o.tasks.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return &model.StatusReport{TaskID: taskID, Status: model.StatusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	report := &model.StatusReport{
		TaskID:   taskID,
		Found:    true,
		Status:   string(task.Status),
		IsPaused: task.Status == model.TaskStatusPaused,
		Files:    &task.Files,
	}
	p, err := o.progress.Read(task.Files)
	if err != nil {
		logger.Debugf("No readable progress for task %s: %v", taskID, err)
		return report, nil
	}
	snap := p.Snapshot(p.LastUpdateTime)
	report.Status = string(p.Status)
	report.Progress = p
	report.Snapshot = &snap
	return report, nil
}

// PauseTask implements TaskOperator.
func (o *DefaultTaskOperator) PauseTask(ctx context.Context, taskID string) error {
	a, err := o.requireActive(taskID)
	if err != nil {
		return err
	}
	a.exec.Control.Pause()
	logger.Infof("Pause requested for task %s.", taskID)
	return nil
}

// ResumeTask implements TaskOperator.
func (o *DefaultTaskOperator) ResumeTask(ctx context.Context, taskID string) error {
	a, err := o.requireActive(taskID)
	if err != nil {
		return err
	}
	a.exec.Control.Resume()
	logger.Infof("Resume requested for task %s.", taskID)
	return nil
}

// StopTask implements TaskOperator.
func (o *DefaultTaskOperator) StopTask(ctx context.Context, taskID string) error {
	a, err := o.requireActive(taskID)
	if err != nil {
		return err
	}
	a.exec.Control.Stop()
	logger.Infof("Stop requested for task %s.", taskID)
	return nil
}

// ListTasks implements TaskOperator.
func (o *DefaultTaskOperator) ListTasks(ctx context.Context) ([]model.TaskSummary, error) {
	return o.tasks.ListTasks(ctx)
}

// CleanupTasks implements TaskOperator. A non-positive maxAgeDays uses the configured retention.
func (o *DefaultTaskOperator) CleanupTasks(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = o.retentionDays
	}
	removed, err := o.tasks.CleanupOldTasks(ctx, maxAgeDays)
	if err != nil {
		return removed, err
	}
	logger.Infof("Cleanup removed %d task(s) older than %d day(s).", removed, maxAgeDays)
	return removed, nil
}

// ListRuns implements TaskOperator.
func (o *DefaultTaskOperator) ListRuns(ctx context.Context, taskID string) ([]*model.Run, error) {
	if _, err := o.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.runs.FindRunsByTaskID(ctx, taskID)
}

// ExportResults implements TaskOperator. A task without results reports repository.ErrFileNotFound.
func (o *DefaultTaskOperator) ExportResults(ctx context.Context, taskID string) (*model.ExportResult, error) {
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	res, err := o.exporter.Export(ctx, task.Files)
	if errors.Is(err, os.ErrNotExist) {
		return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("task %s has no results yet", taskID), repository.ErrFileNotFound, false, false)
	}
	return res, err
}

// ActiveTaskID returns the id of the running task, or "".
func (o *DefaultTaskOperator) ActiveTaskID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return ""
	}
	return o.active.exec.Task.ID
}

// Wait blocks until the active task, if any, finishes and returns the outcome of
// the most recently finished task.
func (o *DefaultTaskOperator) Wait(ctx context.Context) (*model.Summary, error) {
	o.mu.Lock()
	a := o.active
	if a == nil {
		a = o.last
	}
	o.mu.Unlock()
	if a == nil {
		return nil, nil
	}
	select {
	case <-a.done:
		return a.summary, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the active task and waits for it to reach a batch boundary.
// When ctx expires first, in-flight requests are cancelled.
func (o *DefaultTaskOperator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	a := o.active
	o.mu.Unlock()
	if a == nil {
		o.baseCancel()
		return nil
	}
	a.exec.Control.Stop()
	select {
	case <-a.done:
		o.baseCancel()
		return nil
	case <-ctx.Done():
		o.baseCancel()
		<-a.done
		return ctx.Err()
	}
}

func (o *DefaultTaskOperator) activeFor(taskID string) *activeTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil && o.active.exec.Task.ID == taskID {
		return o.active
	}
	return nil
}

func (o *DefaultTaskOperator) requireActive(taskID string) (*activeTask, error) {
	if a := o.activeFor(taskID); a != nil {
		return a, nil
	}
	return nil, exception.NewBatchError(operatorModule, fmt.Sprintf("task %s is not running", taskID), ErrTaskNotActive, false, false)
}
