package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
)

type fakeExporter struct {
	res *model.ExportResult
	err error
}

func (e fakeExporter) Export(context.Context, model.OutputFiles) (*model.ExportResult, error) {
	return e.res, e.err
}

// gate holds every provider call until it is opened.
type gate struct {
	entered chan struct{}
	open    chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 100), open: make(chan struct{})}
}

func (g *gate) provider(ctx context.Context, content string) (*model.APIResult, error) {
	g.entered <- struct{}{}
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return echo(ctx, content)
}

func waitFor(t *testing.T, ch <-chan model.Event, want model.EventType) model.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func newOperator(t *testing.T, fn func(ctx context.Context, content string) (*model.APIResult, error), exporter fakeExporter) (*DefaultTaskOperator, *harness, chan model.Event) {
	t.Helper()
	h := newHarness(t, fn)
	events := make(chan model.Event, 100)
	orch := h.newOrchestrator(h.store, eventChan(events))
	op := NewDefaultTaskOperator(orch, h.tasks, h.runs, h.store, exporter, 7)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = op.Shutdown(ctx)
	})
	return op, h, events
}

type eventChan chan model.Event

func (c eventChan) OnEvent(_ context.Context, e model.Event) {
	select {
	case c <- e:
	default:
	}
}

func TestTaskOperator_StartRunsInBackground(t *testing.T) {
	ctx := context.Background()
	op, h, _ := newOperator(t, echo, fakeExporter{})
	data := h.writeFile(t, "rows.csv", numberedRows(4))

	id, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	summary, err := op.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, summary.TaskID)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Empty(t, op.ActiveTaskID())

	status, err := op.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Found)
	assert.False(t, status.Active)
	assert.Equal(t, string(model.ProgressCompleted), status.Status)
	require.NotNil(t, status.Snapshot)
	assert.Equal(t, 100, status.Snapshot.Progress)

	runs, err := op.ListRuns(ctx, id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)

	tasks, err := op.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}

func TestTaskOperator_RejectsSecondStart(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	op, h, _ := newOperator(t, g.provider, fakeExporter{})
	data := h.writeFile(t, "rows.csv", numberedRows(2))

	id, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	<-g.entered
	assert.Equal(t, id, op.ActiveTaskID())

	_, err = op.StartTask(ctx, request(data, 2, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskAlreadyRunning))

	status, err := op.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, string(model.ProgressProcessing), status.Status)

	close(g.open)
	_, err = op.Wait(ctx)
	require.NoError(t, err)
}

func TestTaskOperator_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	op, h, events := newOperator(t, g.provider, fakeExporter{})
	data := h.writeFile(t, "rows.csv", numberedRows(4))

	id, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	<-g.entered
	require.NoError(t, op.PauseTask(ctx, id))
	close(g.open)

	paused := waitFor(t, events, model.EventPaused)
	require.NotNil(t, paused.Progress)
	assert.Equal(t, 2, paused.Progress.ProcessedRows)

	status, err := op.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.IsPaused)
	assert.Equal(t, string(model.ProgressPaused), status.Status)

	task, err := h.tasks.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, task.Status)

	require.NoError(t, op.ResumeTask(ctx, id))
	summary, err := op.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, summary.IsPaused)
	assert.Equal(t, 4, summary.SuccessCount)
}

func TestTaskOperator_StopKeepsTaskResumable(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	op, h, _ := newOperator(t, g.provider, fakeExporter{})
	data := h.writeFile(t, "rows.csv", numberedRows(6))

	id, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	<-g.entered
	require.NoError(t, op.StopTask(ctx, id))
	close(g.open)

	summary, err := op.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, summary.IsPaused)
	assert.Equal(t, 2, summary.ProcessedRows)

	again, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	summary, err = op.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.ProcessedRows)

	runs, err := op.ListRuns(ctx, id)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStatusStopped, runs[0].Status)
	assert.Equal(t, model.RunStatusCompleted, runs[1].Status)
}

func TestTaskOperator_ControlRequiresActiveTask(t *testing.T) {
	ctx := context.Background()
	op, _, _ := newOperator(t, echo, fakeExporter{})

	for name, fn := range map[string]func(context.Context, string) error{
		"pause":  op.PauseTask,
		"resume": op.ResumeTask,
		"stop":   op.StopTask,
	} {
		t.Run(name, func(t *testing.T) {
			err := fn(ctx, "task_unknown")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTaskNotActive))
		})
	}
}

func TestTaskOperator_UnknownTask(t *testing.T) {
	ctx := context.Background()
	op, _, _ := newOperator(t, echo, fakeExporter{})

	status, err := op.GetTaskStatus(ctx, "task_missing")
	require.NoError(t, err)
	assert.False(t, status.Found)
	assert.Equal(t, model.StatusNotFound, status.Status)

	_, err = op.ListRuns(ctx, "task_missing")
	assert.True(t, errors.Is(err, repository.ErrTaskNotFound))

	_, err = op.ExportResults(ctx, "task_missing")
	assert.True(t, errors.Is(err, repository.ErrTaskNotFound))
}

func TestTaskOperator_ExportResults(t *testing.T) {
	ctx := context.Background()

	t.Run("no results yet", func(t *testing.T) {
		op, h, _ := newOperator(t, echo, fakeExporter{err: fmt.Errorf("open: %w", os.ErrNotExist)})
		task, err := h.tasks.CreateTask(ctx, h.writeFile(t, "a.csv", "a\n1\n"), model.IdentityConfig{}, []int{0})
		require.NoError(t, err)

		_, err = op.ExportResults(ctx, task.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, repository.ErrFileNotFound))
	})

	t.Run("exported", func(t *testing.T) {
		want := &model.ExportResult{File: "/tmp/results.parquet", Name: "results.parquet", Rows: 3}
		op, h, _ := newOperator(t, echo, fakeExporter{res: want})
		task, err := h.tasks.CreateTask(ctx, h.writeFile(t, "a.csv", "a\n1\n"), model.IdentityConfig{}, []int{0})
		require.NoError(t, err)

		got, err := op.ExportResults(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestTaskOperator_StartValidationError(t *testing.T) {
	ctx := context.Background()
	op, h, _ := newOperator(t, echo, fakeExporter{})

	_, err := op.StartTask(ctx, request(h.writeFile(t, "empty.csv", "a\n"), 2, 0))
	require.Error(t, err)
	assert.Empty(t, op.ActiveTaskID())

	summary, err := op.Wait(ctx)
	assert.NoError(t, err)
	assert.Nil(t, summary)
}

func TestTaskOperator_ShutdownStopsActiveTask(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	op, h, _ := newOperator(t, g.provider, fakeExporter{})
	data := h.writeFile(t, "rows.csv", numberedRows(4))

	id, err := op.StartTask(ctx, request(data, 2, 0))
	require.NoError(t, err)
	<-g.entered

	done := make(chan error, 1)
	go func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- op.Shutdown(sctx)
	}()
	close(g.open)
	require.NoError(t, <-done)

	task, err := h.tasks.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, task.Status)
}

func TestControl(t *testing.T) {
	c := NewControl()
	assert.False(t, c.IsPaused())

	c.Pause()
	assert.True(t, c.IsPaused())

	resumed := make(chan bool, 1)
	go func() { resumed <- c.awaitResume(context.Background(), time.Hour) }()
	c.Resume()
	assert.True(t, <-resumed)
	assert.False(t, c.IsPaused())

	c.Pause()
	go func() { resumed <- c.awaitResume(context.Background(), time.Hour) }()
	c.Stop()
	assert.False(t, <-resumed)
	assert.True(t, c.IsStopped())
	assert.False(t, c.IsPaused())

	c.Pause()
	assert.False(t, c.IsPaused(), "a stopped run cannot be paused")
}

func TestControl_AwaitResumeHonoursContext(t *testing.T) {
	c := NewControl()
	c.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.awaitResume(ctx, time.Hour))
}
