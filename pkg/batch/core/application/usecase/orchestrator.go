package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/promptbatch/pkg/batch/component/step/reader"
	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/promptbatch/pkg/batch/core/ports"
	exception "github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "orchestrator"

// Settings holds the engine-wide processing defaults.
type Settings struct {
	Defaults  model.ProcessingDefaults
	PausePoll time.Duration
}

// SettingsFromConfig reads promptbatch.batch, keeping the built-in default for unset values.
func SettingsFromConfig(cfg *config.Config) Settings {
	b := cfg.PromptBatch.Batch
	d := model.BuiltinDefaults()
	if b.BatchSize > 0 {
		d.BatchSize = b.BatchSize
	}
	if b.PacingIntervalSeconds >= 0 {
		d.PacingInterval = b.PacingIntervalSeconds
	}
	if b.MaxRetries > 0 {
		d.MaxRetries = b.MaxRetries
	}
	if b.RetryIntervalSeconds > 0 {
		d.RetryInterval = b.RetryIntervalSeconds
	}
	if b.LLMConcurrentLimit > 0 {
		d.LLMConcurrentLimit = b.LLMConcurrentLimit
	}
	if b.AgentConcurrentLimit > 0 {
		d.AgentConcurrentLimit = b.AgentConcurrentLimit
	}
	poll := time.Duration(b.PausePollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = time.Second
	}
	return Settings{Defaults: d, PausePoll: poll}
}

// Listeners are the observers notified by the orchestrator, in order.
type Listeners struct {
	Events  []port.EventListener
	Runs    []port.RunListener
	Batches []port.BatchListener
}

// Orchestrator drives one task through the reader, the provider and the progress tracker.
type Orchestrator struct {
	tasks     repository.TaskRepository
	runs      repository.RunRepository
	providers port.ProviderFactory
	progress  port.ProgressStore
	settings  Settings

	reporter  port.Reporter
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	notifier  ports.Notifier
	listeners Listeners
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithReporter sets the reporter receiving human oriented messages.
func WithReporter(r port.Reporter) OrchestratorOption {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(r metrics.MetricRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithNotifier sets the notifier called once per finished run.
func WithNotifier(n ports.Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithListeners sets the observers.
func WithListeners(l Listeners) OrchestratorOption {
	return func(o *Orchestrator) { o.listeners = l }
}

// WithPacingSleeper replaces the wait between batches.
func WithPacingSleeper(fn func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = fn }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	tasks repository.TaskRepository,
	runs repository.RunRepository,
	providers port.ProviderFactory,
	progress port.ProgressStore,
	settings Settings,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		tasks:     tasks,
		runs:      runs,
		providers: providers,
		progress:  progress,
		settings:  settings,
		reporter:  discardReporter{},
		recorder:  metrics.NewNoOpMetricRecorder(),
		tracer:    metrics.NewNoOpTracer(),
		notifier:  noopNotifier{},
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.settings.PausePoll <= 0 {
		o.settings.PausePoll = time.Second
	}
	return o
}

// Execution is a validated request bound to its task, ready to be executed once.
type Execution struct {
	Task    *model.TaskInfo
	Resumed bool
	Control *Control

	api      model.APIConfig
	prompt   model.PromptConfig
	options  model.ProcessOptions
	fields   []int
	window   int
	provider port.Provider

	mu      sync.Mutex
	tracker port.ProgressTracker
	run     *model.Run
}

// Progress returns the live progress once the tracker is loaded.
func (e *Execution) Progress() (model.Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracker == nil {
		return model.Progress{}, false
	}
	return e.tracker.GetProgress(), true
}

// Run returns a copy of the current run record, or nil before it is created.
func (e *Execution) Run() *model.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	r := *e.run
	return &r
}

func (e *Execution) setTracker(t port.ProgressTracker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker = t
}

// updateRun mutates the run under the lock and returns a copy for persistence.
func (e *Execution) updateRun(fn func(r *model.Run)) *model.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.run)
	r := *e.run
	return &r
}

// Prepare validates req and resolves the task it addresses: a non-completed task with the
// same data file identity and configuration is resumed, otherwise a new one is created.
// Validation failures return an error matching exception.ErrValidation and create nothing.
func (o *Orchestrator) Prepare(ctx context.Context, req model.StartRequest) (*Execution, error) {
	api := req.APIConfig.WithDefaults(o.settings.Defaults)
	options := req.Options.WithDefaults(o.settings.Defaults)
	fields := req.SelectedFields
	if len(fields) == 0 {
		fields = []int{0}
	}

	if _, err := os.Stat(req.DataFile); err != nil {
		return nil, exception.NewValidationError(moduleName, fmt.Sprintf("data file not found: %s", req.DataFile))
	}
	if errs := model.ValidationErrors(api, req.PromptConfig); len(errs) > 0 {
		return nil, exception.NewValidationError(moduleName, "invalid configuration: "+strings.Join(errs, ", "))
	}
	info, err := reader.Describe(req.DataFile)
	if err != nil {
		return nil, exception.NewValidationError(moduleName, fmt.Sprintf("cannot read data file: %v", err))
	}
	if info.TotalRows == 0 {
		return nil, exception.NewValidationError(moduleName, fmt.Sprintf("data file %s has no data rows", req.DataFile))
	}
	if err := reader.ValidateFields(info, fields); err != nil {
		return nil, err
	}
	provider, err := o.providers.NewProvider(api)
	if err != nil {
		return nil, err
	}

	identity := model.IdentityConfig{
		APIConfig:    req.APIConfig,
		PromptConfig: req.PromptConfig,
		Window:       model.NewTaskWindow(fields, options.StartPos, options.EndPos, info.TotalRows),
	}
	task, err := o.tasks.FindResumableTask(ctx, req.DataFile, identity)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to look up resumable task", err, false, false)
	}
	resumed := task != nil
	if resumed {
		o.reporter.Info("Resuming task %s", task.ID)
	} else {
		task, err = o.tasks.CreateTask(ctx, req.DataFile, identity, fields)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to create task", err, false, false)
		}
		o.reporter.Info("Created task %s", task.ID)
	}

	return &Execution{
		Task:     task,
		Resumed:  resumed,
		Control:  NewControl(),
		api:      api,
		prompt:   req.PromptConfig,
		options:  options,
		fields:   fields,
		window:   reader.WindowSize(info.TotalRows, options.StartPos, options.EndPos),
		provider: provider,
	}, nil
}

// Execute processes exec until its window is exhausted, it is stopped, or a task-level
// failure occurs. Row and batch failures are recorded and never returned. A task-level
// failure marks progress, task and run as error before it is returned.
func (o *Orchestrator) Execute(ctx context.Context, exec *Execution) (*model.Summary, error) {
	task := exec.Task
	exec.run = model.NewRun(task.ID, 0, o.runParameters(exec))
	if err := o.runs.SaveRun(ctx, exec.Run()); err != nil {
		o.reporter.Warn("Failed to save run %s: %v", exec.run.ID, err)
	}

	ctx, endSpan := o.tracer.StartRunSpan(ctx, exec.Run())
	defer endSpan()

	tracker, err := o.progress.Open(task.ID, task.Files)
	if err != nil {
		return nil, o.fail(ctx, exec, err)
	}
	exec.setTracker(tracker)

	cursor, err := o.initProgress(exec)
	if err != nil {
		return nil, o.fail(ctx, exec, err)
	}
	o.saveRun(ctx, exec.updateRun(func(r *model.Run) {
		r.StartPosition = cursor
		r.EndPosition = cursor
	}))
	if err := o.tasks.UpdateTaskStatus(ctx, task.ID, model.TaskStatusProcessing); err != nil {
		return nil, o.fail(ctx, exec, err)
	}

	o.recorder.RecordRunStart(ctx, exec.Run())
	for _, l := range o.listeners.Runs {
		l.BeforeRun(ctx, exec.Run())
	}
	o.emit(ctx, exec, model.Event{Type: model.EventStarted, Message: fmt.Sprintf("processing %s from row %d", task.DataFile, exec.options.StartPos+cursor+1)})
	o.reporter.Info("Task %s: rows %d-%d of window, batch size %d", task.ID, cursor+1, exec.window, exec.options.BatchSize)

	stopped, err := o.loop(ctx, exec, cursor)
	if err != nil {
		return nil, o.fail(ctx, exec, err)
	}
	return o.finish(ctx, exec, stopped)
}

// initProgress loads or declares the task's progress and returns the window cursor.
func (o *Orchestrator) initProgress(exec *Execution) (int, error) {
	loaded, err := exec.tracker.LoadProgress()
	if err != nil {
		return 0, err
	}
	if !loaded || exec.tracker.GetProgress().TotalRows == 0 {
		if err := exec.tracker.SetTotalRows(exec.window); err != nil {
			return 0, err
		}
		return exec.tracker.GetProgress().CurrentPosition, nil
	}
	declared := exec.tracker.GetProgress()
	if declared.TotalRows != exec.window || declared.CurrentPosition > exec.window {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("progress of task %s covers %d rows at row %d, requested window has %d rows",
				exec.Task.ID, declared.TotalRows, declared.CurrentPosition, exec.window), nil, false, false)
	}
	if err := exec.tracker.MarkProcessing(); err != nil {
		return 0, err
	}
	cursor := declared.CurrentPosition
	o.reporter.Info("Task %s: resuming at row %d", exec.Task.ID, cursor+1)
	return cursor, nil
}

// loop runs batches until the window is exhausted. It reports whether the run was stopped.
func (o *Orchestrator) loop(ctx context.Context, exec *Execution, cursor int) (bool, error) {
	rd, err := reader.Open(exec.Task.DataFile, reader.Options{
		BatchSize:    exec.options.BatchSize,
		FieldIndices: exec.fields,
		StartPos:     exec.options.StartPos + cursor,
		EndPos:       exec.options.EndPos,
	})
	if err != nil {
		return false, err
	}
	defer rd.Close()

	position := cursor
	pacing := time.Duration(exec.options.Pacing() * float64(time.Second))
	for {
		if exec.Control.IsStopped() || ctx.Err() != nil {
			return true, nil
		}
		if exec.Control.IsPaused() {
			if err := o.pause(ctx, exec); err != nil {
				return false, err
			}
			if !exec.Control.awaitResume(ctx, o.settings.PausePoll) {
				return true, nil
			}
			if err := o.resume(ctx, exec); err != nil {
				return false, err
			}
		}

		batch, err := rd.Next(ctx)
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return false, err
		}

		if err := o.processBatch(ctx, exec, batch, position); err != nil {
			return false, err
		}
		position += len(batch)

		if position < exec.window && pacing > 0 {
			if err := o.sleep(ctx, pacing); err != nil {
				return true, nil
			}
		}
	}
}

func (o *Orchestrator) pause(ctx context.Context, exec *Execution) error {
	if err := exec.tracker.MarkPaused(); err != nil {
		return err
	}
	if err := o.tasks.UpdateTaskStatus(ctx, exec.Task.ID, model.TaskStatusPaused); err != nil {
		return err
	}
	o.saveRun(ctx, exec.updateRun(func(r *model.Run) { r.Status = model.RunStatusPaused }))
	o.emit(ctx, exec, model.Event{Type: model.EventPaused, Message: "paused"})
	o.reporter.Info("Task %s paused", exec.Task.ID)
	return nil
}

func (o *Orchestrator) resume(ctx context.Context, exec *Execution) error {
	if err := exec.tracker.MarkProcessing(); err != nil {
		return err
	}
	if err := o.tasks.UpdateTaskStatus(ctx, exec.Task.ID, model.TaskStatusProcessing); err != nil {
		return err
	}
	o.saveRun(ctx, exec.updateRun(func(r *model.Run) { r.Status = model.RunStatusRunning }))
	o.emit(ctx, exec, model.Event{Type: model.EventProgress, Message: "resumed"})
	o.reporter.Info("Task %s resumed", exec.Task.ID)
	return nil
}

// processBatch dispatches batch, records every outcome and advances the cursor past it.
// Only tracker failures are returned.
func (o *Orchestrator) processBatch(ctx context.Context, exec *Execution, batch []model.RowRecord, position int) error {
	taskID := exec.Task.ID
	first, last := batch[0].Index, batch[len(batch)-1].Index
	start := o.now()

	bctx, endSpan := o.tracer.StartBatchSpan(ctx, taskID, first, len(batch))
	defer endSpan()
	for _, l := range o.listeners.Batches {
		l.BeforeBatch(bctx, taskID, first, len(batch))
	}
	o.reporter.Info("Processing rows %d-%d", first+1, last+1)

	outcomes, err := o.dispatch(bctx, exec, batch)
	if err != nil {
		o.reporter.Error("Batch %d-%d failed: %v", first+1, last+1, err)
		o.tracer.RecordError(bctx, moduleName, err)
		outcomes = batchFailure(batch, err.Error())
	}
	if err := o.record(bctx, exec, outcomes); err != nil {
		return err
	}
	if err := exec.tracker.UpdatePosition(position + len(batch)); err != nil {
		return err
	}

	p := exec.tracker.GetProgress()
	o.saveRun(bctx, exec.updateRun(func(r *model.Run) {
		r.EndPosition = p.CurrentPosition
		r.SuccessCount, r.ErrorCount = countOutcomes(outcomes, r.SuccessCount, r.ErrorCount)
		r.LastUpdated = o.now()
	}))
	o.recorder.RecordBatch(bctx, taskID, len(batch), o.now().Sub(start))
	for _, l := range o.listeners.Batches {
		l.AfterBatch(bctx, taskID, outcomes)
	}
	o.emit(ctx, exec, model.Event{Type: model.EventProgress})
	return nil
}

// record writes outcomes to the tracker in row order.
func (o *Orchestrator) record(ctx context.Context, exec *Execution, outcomes []model.RowOutcome) error {
	var rows []model.ResultRow
	skipped := 0
	for _, out := range outcomes {
		switch {
		case out.Success:
			rows = append(rows, out.Result)
			o.recorder.RecordRowSuccess(ctx, exec.Task.ID)
		case out.Skipped:
			skipped++
		default:
			if err := exec.tracker.RecordError(out.Index, out.OriginalContent, out.Error, out.RetryCount); err != nil {
				return err
			}
			o.recorder.RecordRowError(ctx, exec.Task.ID, out.Reason)
		}
	}
	if err := exec.tracker.RecordSuccess(rows); err != nil {
		return err
	}
	if skipped > 0 {
		return exec.tracker.RecordSkipped(skipped)
	}
	return nil
}

// finish closes a run that ended without a task-level failure.
func (o *Orchestrator) finish(ctx context.Context, exec *Execution, stopped bool) (*model.Summary, error) {
	ctx = context.WithoutCancel(ctx)
	task := exec.Task
	runStatus := model.RunStatusCompleted
	taskStatus := model.TaskStatusCompleted
	eventType := model.EventCompleted
	if stopped {
		if err := exec.tracker.MarkPaused(); err != nil {
			return nil, o.fail(ctx, exec, err)
		}
		runStatus, taskStatus, eventType = model.RunStatusStopped, model.TaskStatusPaused, model.EventStopped
	} else if err := exec.tracker.MarkCompleted(); err != nil {
		return nil, o.fail(ctx, exec, err)
	}
	if err := o.tasks.UpdateTaskStatus(ctx, task.ID, taskStatus); err != nil {
		return nil, o.fail(ctx, exec, err)
	}

	p := exec.tracker.GetProgress()
	summary := &model.Summary{
		TotalRows:     p.TotalRows,
		ProcessedRows: p.ProcessedRows,
		SuccessCount:  p.SuccessCount,
		ErrorCount:    p.ErrorCount,
		SkippedCount:  p.SkippedCount,
		IsPaused:      stopped,
		TaskID:        task.ID,
		OutputFiles:   exec.tracker.OutputFiles(),
	}
	run := exec.updateRun(func(r *model.Run) {
		r.Finish(runStatus, p.CurrentPosition, r.SuccessCount, r.ErrorCount, "")
	})
	o.closeRun(ctx, exec, run)
	o.emit(ctx, exec, model.Event{Type: eventType, Result: summary})

	if stopped {
		o.reporter.Warn("Task %s stopped at row %d of %d", task.ID, p.ProcessedRows, p.TotalRows)
	} else {
		o.reporter.Success("Task %s completed: %d succeeded, %d failed, %d skipped",
			task.ID, p.SuccessCount, p.ErrorCount, p.SkippedCount)
	}
	return summary, nil
}

// fail records a task-level failure and returns cause.
func (o *Orchestrator) fail(ctx context.Context, exec *Execution, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	o.reporter.Error("Task %s failed: %s", exec.Task.ID, msg)
	o.tracer.RecordError(ctx, moduleName, cause)

	position := 0
	exec.mu.Lock()
	tracker := exec.tracker
	exec.mu.Unlock()
	if tracker != nil {
		if err := tracker.MarkError(msg); err != nil {
			logger.Errorf("Task %s: failed to persist error state: %v", exec.Task.ID, err)
		}
		position = tracker.GetProgress().CurrentPosition
	}
	if err := o.tasks.UpdateTaskStatus(ctx, exec.Task.ID, model.TaskStatusError); err != nil {
		logger.Errorf("Task %s: failed to mark task as error: %v", exec.Task.ID, err)
	}
	run := exec.updateRun(func(r *model.Run) {
		r.Finish(model.RunStatusError, position, r.SuccessCount, r.ErrorCount, msg)
	})
	o.closeRun(ctx, exec, run)
	o.emit(ctx, exec, model.Event{Type: model.EventFailed, Error: msg})
	return cause
}

func (o *Orchestrator) closeRun(ctx context.Context, exec *Execution, run *model.Run) {
	o.saveRun(ctx, run)
	o.recorder.RecordRunEnd(ctx, run)
	for _, l := range o.listeners.Runs {
		l.AfterRun(ctx, run)
	}
	o.notifier.NotifyRunCompletion(ctx, exec.Task, run)
}

// saveRun persists run. History is an audit trail; a failed write is logged, not fatal.
func (o *Orchestrator) saveRun(ctx context.Context, run *model.Run) {
	if err := o.runs.UpdateRun(ctx, run); err != nil {
		o.reporter.Warn("Failed to update run %s: %v", run.ID, err)
	}
}

// emit stamps event and hands it to every event listener.
func (o *Orchestrator) emit(ctx context.Context, exec *Execution, event model.Event) {
	event.TaskID = exec.Task.ID
	event.Timestamp = o.now()
	if run := exec.Run(); run != nil {
		event.RunID = run.ID
	}
	if p, ok := exec.Progress(); ok && event.Progress == nil {
		snap := p.Snapshot(event.Timestamp)
		event.Progress = &snap
	}
	for _, l := range o.listeners.Events {
		l.OnEvent(ctx, event)
	}
}

func (o *Orchestrator) runParameters(exec *Execution) map[string]interface{} {
	params := map[string]interface{}{
		"dataFile":       exec.Task.DataFile,
		"selectedFields": exec.fields,
		"batchSize":      exec.options.BatchSize,
		"startPos":       exec.options.StartPos,
		"apiType":        exec.api.APIType,
		"resumed":        exec.Resumed,
	}
	if exec.options.EndPos != nil {
		params["endPos"] = *exec.options.EndPos
	}
	if exec.api.Model != "" {
		params["model"] = exec.api.Model
	}
	if exec.api.AppID != "" {
		params["app_id"] = exec.api.AppID
	}
	return params
}

func countOutcomes(outcomes []model.RowOutcome, successes, errs int) (int, int) {
	for _, out := range outcomes {
		switch {
		case out.Success:
			successes++
		case !out.Skipped:
			errs++
		}
	}
	return successes, errs
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type discardReporter struct{}

func (discardReporter) Info(string, ...interface{})    {}
func (discardReporter) Warn(string, ...interface{})    {}
func (discardReporter) Error(string, ...interface{})   {}
func (discardReporter) Success(string, ...interface{}) {}

type noopNotifier struct{}

func (noopNotifier) NotifyRunCompletion(context.Context, *model.TaskInfo, *model.Run) {}
