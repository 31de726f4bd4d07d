package usecase

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageConfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/local"
	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository/filesystem"
	"github.com/tigerroll/promptbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// fakeProvider answers every request with fn and records the row contents it saw.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, content string) (*model.APIResult, error)
}

func (p *fakeProvider) MakeRequest(ctx context.Context, system, user string) (*model.APIResult, error) {
	content, _, _ := strings.Cut(user, "\n")
	p.mu.Lock()
	p.calls = append(p.calls, content)
	p.mu.Unlock()
	return p.fn(ctx, content)
}

func (p *fakeProvider) APIType() string { return model.APITypeLLM }

func (p *fakeProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeFactory struct{ p port.Provider }

func (f fakeFactory) NewProvider(model.APIConfig) (port.Provider, error) { return f.p, nil }

func echo(_ context.Context, content string) (*model.APIResult, error) {
	return &model.APIResult{Value: model.Record{{Key: "result", Value: content}}}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) OnEvent(_ context.Context, e model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []model.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type batchLog struct {
	mu    sync.Mutex
	sizes []int
	after func(outcomes []model.RowOutcome)
}

func (l *batchLog) BeforeBatch(_ context.Context, _ string, _ int, size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes = append(l.sizes, size)
}

func (l *batchLog) AfterBatch(_ context.Context, _ string, outcomes []model.RowOutcome) {
	if l.after != nil {
		l.after(outcomes)
	}
}

type harness struct {
	dir      string
	tasks    *filesystem.TaskRepository
	runs     *inmemory.InMemoryRunRepository
	store    port.ProgressStore
	provider *fakeProvider
	events   *eventLog
	batches  *batchLog
	orch     *Orchestrator
}

func newHarness(t *testing.T, fn func(ctx context.Context, content string) (*model.APIResult, error)) *harness {
	t.Helper()
	dir := t.TempDir()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: filepath.Join(dir, "tasks")}, "tasks")
	require.NoError(t, err)
	tasks, err := filesystem.NewTaskRepository(conn, config.IdentityPath)
	require.NoError(t, err)

	h := &harness{
		dir:      dir,
		tasks:    tasks,
		runs:     inmemory.NewInMemoryRunRepository(),
		store:    progress.NewStore(),
		provider: &fakeProvider{fn: fn},
		events:   &eventLog{},
		batches:  &batchLog{},
	}
	h.orch = h.newOrchestrator(h.store)
	return h
}

func (h *harness) newOrchestrator(store port.ProgressStore, extra ...port.EventListener) *Orchestrator {
	settings := Settings{Defaults: model.BuiltinDefaults(), PausePoll: 10 * time.Millisecond}
	settings.Defaults.PacingInterval = 0
	return NewOrchestrator(h.tasks, h.runs, fakeFactory{p: h.provider}, store, settings,
		WithListeners(Listeners{
			Events:  append([]port.EventListener{h.events}, extra...),
			Batches: []port.BatchListener{h.batches},
		}),
	)
}

func (h *harness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func request(dataFile string, batchSize int, fields ...int) model.StartRequest {
	return model.StartRequest{
		DataFile:       dataFile,
		SelectedFields: fields,
		APIConfig: model.APIConfig{
			APIType: model.APITypeLLM,
			APIKey:  "sk-test-abcdef",
			APIURL:  "https://llm.example.com",
			Model:   "test-model",
		},
		PromptConfig: model.PromptConfig{System: "You extract data.", Task: "{input_text}", Output: "json"},
		Options:      model.ProcessOptions{BatchSize: batchSize},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func numberedRows(n int) string {
	var b strings.Builder
	b.WriteString("text,id\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "row%d,%d\n", i, i)
	}
	return b.String()
}

func run(t *testing.T, o *Orchestrator, req model.StartRequest) (*Execution, *model.Summary) {
	t.Helper()
	ctx := context.Background()
	exec, err := o.Prepare(ctx, req)
	require.NoError(t, err)
	summary, err := o.Execute(ctx, exec)
	require.NoError(t, err)
	return exec, summary
}

func TestExecute_ThreeRowScenario(t *testing.T) {
	h := newHarness(t, echo)
	data := h.writeFile(t, "people.csv", "name,age\nAlice,30\nBob,25\nCarol,40\n")

	exec, summary := run(t, h.orch, request(data, 2, 0))

	assert.Equal(t, []int{2, 1}, h.batches.sizes)
	assert.Equal(t, 3, summary.TotalRows)
	assert.Equal(t, 3, summary.ProcessedRows)
	assert.Equal(t, 3, summary.SuccessCount)
	assert.Equal(t, 0, summary.ErrorCount)
	assert.False(t, summary.IsPaused)
	assert.Equal(t, exec.Task.ID, summary.TaskID)

	records := readCSV(t, summary.OutputFiles.SuccessFile)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"position", "input", "output", "result"}, records[0])
	assert.Equal(t, []string{"1", "Alice", `{"result":"Alice"}`, "Alice"}, records[1])
	assert.Equal(t, "Bob", records[2][3])
	assert.Equal(t, "Carol", records[3][3])

	assert.Equal(t, []model.EventType{model.EventStarted, model.EventProgress, model.EventProgress, model.EventCompleted},
		h.events.types())
	last := h.events.events[len(h.events.events)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, 3, last.Result.SuccessCount)
	require.NotNil(t, last.Progress)
	assert.Equal(t, 100, last.Progress.Progress)

	task, err := h.tasks.GetTask(context.Background(), exec.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)

	runs, err := h.runs.FindRunsByTaskID(context.Background(), exec.Task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 0, runs[0].StartPosition)
	assert.Equal(t, 3, runs[0].EndPosition)
	assert.Equal(t, 3, runs[0].SuccessCount)
	assert.NotNil(t, runs[0].EndTime)
}

func TestExecute_RowErrorsAreRecorded(t *testing.T) {
	h := newHarness(t, func(_ context.Context, content string) (*model.APIResult, error) {
		switch content {
		case "null":
			return nil, nil
		case "boom":
			return nil, &port.RetriesExhaustedError{
				Retries: 2,
				Err:     exception.NewBatchError("provider", "request failed after 3 attempts", errors.New("HTTP 503"), false, false),
			}
		}
		return &model.APIResult{Value: "plain text"}, nil
	})
	data := h.writeFile(t, "mixed.csv", "text,other\nok,1\n ,2\nnull,3\nboom,4\n")

	_, summary := run(t, h.orch, request(data, 5, 0))

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 3, summary.ErrorCount)
	assert.Equal(t, summary.ProcessedRows, summary.SuccessCount+summary.ErrorCount+summary.SkippedCount)

	errs := readCSV(t, summary.OutputFiles.ErrorFile)
	require.Len(t, errs, 4)
	assert.Equal(t, []string{"row_index", "original_content", "error_message", "timestamp", "retry_count"}, errs[0])
	assert.Equal(t, "1", errs[1][0])
	assert.Equal(t, " ,2", errs[1][1])
	assert.Equal(t, MsgEmptyContent, errs[1][2])
	assert.Equal(t, MsgEmptyResult, errs[2][2])
	assert.Contains(t, errs[3][2], "request failed after 3 attempts")
	assert.Equal(t, "0", errs[1][4])
	assert.Equal(t, "2", errs[3][4])

	results := readCSV(t, summary.OutputFiles.SuccessFile)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"1", "ok", "plain text"}, results[1])
}

func TestExecute_SkipEmptyCountsSkipped(t *testing.T) {
	h := newHarness(t, echo)
	data := h.writeFile(t, "gaps.csv", "text\na\n\"\"\nb\n")
	req := request(data, 2, 0)
	req.Options.SkipEmpty = true

	_, summary := run(t, h.orch, req)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, 0, summary.ErrorCount)
	assert.Equal(t, 3, summary.ProcessedRows)
}

func TestExecute_BatchPanicFailsWholeBatch(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, content string) (*model.APIResult, error) {
		if content == "row2" {
			panic("provider exploded")
		}
		return echo(ctx, content)
	})
	data := h.writeFile(t, "rows.csv", numberedRows(4))

	_, summary := run(t, h.orch, request(data, 2, 0))

	assert.Equal(t, 2, summary.ErrorCount)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 4, summary.ProcessedRows)

	errs := readCSV(t, summary.OutputFiles.ErrorFile)
	require.Len(t, errs, 3)
	assert.Equal(t, "0", errs[1][0])
	assert.Equal(t, "row1,1", errs[1][1])
	assert.Contains(t, errs[1][2], "provider exploded")
	assert.Equal(t, errs[1][2], errs[2][2])
}

func TestExecute_Windowing(t *testing.T) {
	h := newHarness(t, echo)
	data := h.writeFile(t, "twenty.csv", numberedRows(20))
	req := request(data, 3, 0)
	end := 10
	req.Options.StartPos = 5
	req.Options.EndPos = &end

	_, summary := run(t, h.orch, req)

	assert.Equal(t, 5, summary.TotalRows)
	assert.Equal(t, 5, summary.ProcessedRows)
	assert.ElementsMatch(t, []string{"row6", "row7", "row8", "row9", "row10"}, h.provider.seen())

	results := readCSV(t, summary.OutputFiles.SuccessFile)
	require.Len(t, results, 6)
	assert.Equal(t, "6", results[1][0])
	assert.Equal(t, "10", results[5][0])
}

func TestExecute_CrashResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "ten.csv", numberedRows(10))
	req := request(data, 5, 0)

	// State left on disk by a process that died right after its first batch.
	first, err := h.orch.Prepare(ctx, req)
	require.NoError(t, err)
	tracker, err := h.store.Open(first.Task.ID, first.Task.Files)
	require.NoError(t, err)
	require.NoError(t, tracker.SetTotalRows(10))
	var rows []model.ResultRow
	for i := 0; i < 5; i++ {
		rows = append(rows, model.ResultRow{Position: i + 1, Data: model.Record{{Key: "position", Value: i + 1}}})
	}
	require.NoError(t, tracker.RecordSuccess(rows))
	require.NoError(t, tracker.UpdatePosition(5))
	require.NoError(t, h.tasks.UpdateTaskStatus(ctx, first.Task.ID, model.TaskStatusProcessing))

	restarted := h.newOrchestrator(progress.NewStore())
	exec, err := restarted.Prepare(ctx, req)
	require.NoError(t, err)
	assert.True(t, exec.Resumed)
	assert.Equal(t, first.Task.ID, exec.Task.ID)

	summary, err := restarted.Execute(ctx, exec)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"row6", "row7", "row8", "row9", "row10"}, h.provider.seen())
	assert.Equal(t, 10, summary.ProcessedRows)
	assert.Equal(t, 10, summary.SuccessCount)

	runs, err := h.runs.FindRunsByTaskID(ctx, exec.Task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 5, runs[0].StartPosition)
	assert.Equal(t, 10, runs[0].EndPosition)
}

func TestPrepare_WindowChangeStartsNewTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "twenty.csv", numberedRows(20))
	windowed := request(data, 5, 0)
	end := 10
	windowed.Options.EndPos = &end

	// A run over rows 0..9 that died after its first batch.
	first, err := h.orch.Prepare(ctx, windowed)
	require.NoError(t, err)
	assert.Equal(t, 10, *first.Task.EndPos)
	tracker, err := h.store.Open(first.Task.ID, first.Task.Files)
	require.NoError(t, err)
	require.NoError(t, tracker.SetTotalRows(10))
	require.NoError(t, tracker.UpdatePosition(5))

	full := request(data, 5, 0)
	exec, err := h.orch.Prepare(ctx, full)
	require.NoError(t, err)
	assert.False(t, exec.Resumed)
	assert.NotEqual(t, first.Task.ID, exec.Task.ID)

	summary, err := h.orch.Execute(ctx, exec)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.TotalRows)
	assert.Equal(t, 20, summary.ProcessedRows)
	assert.LessOrEqual(t, summary.ProcessedRows, summary.TotalRows)

	otherFields := request(data, 5, 1)
	otherFields.Options.EndPos = &end
	exec, err = h.orch.Prepare(ctx, otherFields)
	require.NoError(t, err)
	assert.False(t, exec.Resumed)
	assert.NotEqual(t, first.Task.ID, exec.Task.ID)

	// An end past the last row is the same window as no end at all.
	past := request(data, 5, 0)
	beyond := 50
	past.Options.EndPos = &beyond
	exec, err = h.orch.Prepare(ctx, past)
	require.NoError(t, err)
	assert.Nil(t, exec.Task.EndPos)

	exec, err = h.orch.Prepare(ctx, windowed)
	require.NoError(t, err)
	assert.True(t, exec.Resumed)
	assert.Equal(t, first.Task.ID, exec.Task.ID)
}

func TestExecute_RejectsProgressOutsideWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "ten.csv", numberedRows(10))

	exec, err := h.orch.Prepare(ctx, request(data, 5, 0))
	require.NoError(t, err)
	tracker, err := h.store.Open(exec.Task.ID, exec.Task.Files)
	require.NoError(t, err)
	require.NoError(t, tracker.SetTotalRows(4))
	require.NoError(t, tracker.UpdatePosition(4))

	_, err = h.orch.Execute(ctx, exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested window has 10 rows")
	assert.Empty(t, h.provider.seen())

	task, err := h.tasks.GetTask(ctx, exec.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusError, task.Status)
}

func TestPrepare_IdempotentResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "two.csv", numberedRows(2))
	req := request(data, 5, 0)

	a, err := h.orch.Prepare(ctx, req)
	require.NoError(t, err)
	assert.False(t, a.Resumed)

	b, err := h.orch.Prepare(ctx, req)
	require.NoError(t, err)
	assert.True(t, b.Resumed)
	assert.Equal(t, a.Task.ID, b.Task.ID)

	_, err = h.orch.Execute(ctx, b)
	require.NoError(t, err)

	c, err := h.orch.Prepare(ctx, req)
	require.NoError(t, err)
	assert.False(t, c.Resumed)
	assert.NotEqual(t, a.Task.ID, c.Task.ID)
}

func TestPrepare_ValidationCreatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "data.csv", "a,b\n1,2\n")
	empty := h.writeFile(t, "empty.csv", "a,b\n")

	missingModel := request(data, 5, 0)
	missingModel.APIConfig.Model = ""
	agentNoApp := request(data, 5, 0)
	agentNoApp.APIConfig.APIType = model.APITypeAliyunAgent

	tests := []struct {
		name string
		req  model.StartRequest
		msg  string
	}{
		{"missing file", request(filepath.Join(h.dir, "nope.csv"), 5, 0), "data file not found"},
		{"missing model", missingModel, "model is required"},
		{"agent without app id", agentNoApp, "app_id is required"},
		{"field out of range", request(data, 5, 0, 2), "out of range"},
		{"no rows", request(empty, 5, 0), "no data rows"},
		{"unsupported format", request(h.writeFile(t, "data.txt", "x"), 5, 0), "cannot read data file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Prepare(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, exception.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	tasks, err := h.tasks.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// failingStore hands out trackers whose writes fail after the first batch.
type failingStore struct {
	port.ProgressStore
}

type failingTracker struct {
	port.ProgressTracker
}

func (s failingStore) Open(taskID string, files model.OutputFiles) (port.ProgressTracker, error) {
	t, err := s.ProgressStore.Open(taskID, files)
	if err != nil {
		return nil, err
	}
	return failingTracker{t}, nil
}

func (t failingTracker) RecordSuccess([]model.ResultRow) error {
	return errors.New("disk full")
}

func TestExecute_TrackerFailureIsTaskLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	o := h.newOrchestrator(failingStore{progress.NewStore()})
	data := h.writeFile(t, "rows.csv", numberedRows(3))

	exec, err := o.Prepare(ctx, request(data, 2, 0))
	require.NoError(t, err)
	_, err = o.Execute(ctx, exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	task, err := h.tasks.GetTask(ctx, exec.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusError, task.Status)

	p, err := progress.ReadProgress(exec.Task.Files.ProgressFile)
	require.NoError(t, err)
	assert.Equal(t, model.ProgressError, p.Status)
	assert.Equal(t, "disk full", p.LastError)

	runs, err := h.runs.FindRunsByTaskID(ctx, exec.Task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusError, runs[0].Status)
	assert.Equal(t, "disk full", runs[0].LastError)

	types := h.events.types()
	assert.Equal(t, model.EventFailed, types[len(types)-1])
}

func TestExecute_StopAtBatchBoundary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, echo)
	data := h.writeFile(t, "rows.csv", numberedRows(6))

	exec, err := h.orch.Prepare(ctx, request(data, 2, 0))
	require.NoError(t, err)
	h.batches.after = func([]model.RowOutcome) { exec.Control.Stop() }

	summary, err := h.orch.Execute(ctx, exec)
	require.NoError(t, err)
	assert.True(t, summary.IsPaused)
	assert.Equal(t, 2, summary.ProcessedRows)
	assert.Equal(t, 6, summary.TotalRows)

	task, err := h.tasks.GetTask(ctx, exec.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPaused, task.Status)

	runs, err := h.runs.FindRunsByTaskID(ctx, exec.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, runs[0].Status)
	assert.Contains(t, h.events.types(), model.EventStopped)

	// The stopped task is resumed by the next identical start, in a new run.
	h.batches.after = nil
	_, summary = run(t, h.orch, request(data, 2, 0))
	assert.Equal(t, 6, summary.ProcessedRows)
	assert.Equal(t, 6, summary.SuccessCount)
	runs, err = h.runs.FindRunsByTaskID(ctx, exec.Task.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[1].StartPosition)
}

func TestSuccessRecord(t *testing.T) {
	row := model.RowRecord{Index: 4, Content: "hello"}
	rec, err := successRecord(row, &model.APIResult{Value: model.Record{
		{Key: "label", Value: "greeting"},
		{Key: "input", Value: "overridden"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"position", "input", "output", "label"}, rec.Keys())
	v, _ := rec.Get("input")
	assert.Equal(t, "overridden", v)
	v, _ = rec.Get("position")
	assert.Equal(t, 5, v)
	v, _ = rec.Get("output")
	assert.Equal(t, `{"label":"greeting","input":"overridden"}`, v)
}
