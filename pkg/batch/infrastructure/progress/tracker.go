// Package progress implements the per-task progress tracker: the progress.json
// state machine plus the append-only results, errors and raw response files.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "tracker"

// ErrorFileHeader is the first line of every errors file.
const ErrorFileHeader = "row_index,original_content,error_message,timestamp,retry_count\n"

// Tracker owns the progress state of one task. All methods are safe for
// concurrent use; every mutation rewrites progress.json before returning.
type Tracker struct {
	mu         sync.Mutex
	files      model.OutputFiles
	progress   model.Progress
	header     []string
	rawEnabled bool
	now        func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRawResponses enables or disables the raw response log.
func WithRawResponses(enabled bool) Option {
	return func(t *Tracker) { t.rawEnabled = enabled }
}

// NewTracker creates the tracker for taskID, creating the task directory and
// the errors file header when missing. Nothing is loaded from disk; call
// LoadProgress to resume.
func NewTracker(taskID string, files model.OutputFiles, opts ...Option) (*Tracker, error) {
	t := &Tracker{files: files, rawEnabled: true, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	t.progress = model.NewProgress(taskID, t.now())

	if err := os.MkdirAll(files.TaskDir, 0o755); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create task directory", err, false, false)
	}
	if _, err := os.Stat(files.ErrorFile); os.IsNotExist(err) {
		if err := os.WriteFile(files.ErrorFile, []byte(ErrorFileHeader), 0o644); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to initialise errors file", err, false, false)
		}
		logger.Debugf("Initialised errors file %s", files.ErrorFile)
	}
	return t, nil
}

// LoadProgress reloads progress.json. It reports false when there is nothing
// usable to resume from: no file, an unreadable file, or a file written for a
// different task. A loaded tracker is in the resuming state.
func (t *Tracker) LoadProgress() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.files.ProgressFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("No progress file for task %s, starting from the beginning", t.progress.TaskID)
		return false, nil
	}
	if err != nil {
		return false, exception.NewBatchError(moduleName, "failed to read progress file", err, false, false)
	}

	var loaded model.Progress
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warnf("Ignoring unreadable progress file %s: %v", t.files.ProgressFile, err)
		return false, nil
	}
	if loaded.TaskID != t.progress.TaskID {
		logger.Warnf("Ignoring progress file of task %s, expected %s", loaded.TaskID, t.progress.TaskID)
		return false, nil
	}

	loaded.LastUpdateTime = t.now()
	loaded.Status = model.ProgressResuming
	t.progress = loaded
	logger.Infof("Loaded progress of task %s: %d/%d rows processed", loaded.TaskID, loaded.ProcessedRows, loaded.TotalRows)
	return true, nil
}

// SetTotalRows declares the row total and moves to processing.
func (t *Tracker) SetTotalRows(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.TotalRows = n
	t.progress.Status = model.ProgressProcessing
	logger.Infof("Task %s: processing %d rows", t.progress.TaskID, n)
	return t.save()
}

// UpdatePosition moves the cursor to position. The cursor never moves back;
// a lower value is ignored with a warning.
func (t *Tracker) UpdatePosition(position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if position < t.progress.CurrentPosition {
		logger.Warnf("Task %s: ignoring cursor move back from %d to %d", t.progress.TaskID, t.progress.CurrentPosition, position)
		return nil
	}
	t.progress.CurrentPosition = position
	t.progress.ProcessedRows = position
	return t.save()
}

// RecordSuccess appends rows to the results file and, when enabled, the raw
// response log. The results header is taken from the first row ever written.
func (t *Tracker) RecordSuccess(rows []model.ResultRow) error {
	if len(rows) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.appendResults(rows); err != nil {
		return err
	}
	t.progress.SuccessCount += len(rows)
	if t.rawEnabled {
		if err := t.appendRaw(rows); err != nil {
			return err
		}
	}
	return t.save()
}

// RecordError appends one line to the errors file.
func (t *Tracker) RecordError(index int, originalContent, message string, retryCount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := formatErrorLine(index, originalContent, message, t.now(), retryCount)
	if err := appendFile(t.files.ErrorFile, []byte(line)); err != nil {
		return exception.NewBatchError(moduleName, "failed to append to errors file", err, false, false)
	}
	t.progress.ErrorCount++
	logger.Warnf("Task %s: row %d failed: %s", t.progress.TaskID, index, message)
	return t.save()
}

// RecordSkipped counts n rows that were deliberately not processed.
func (t *Tracker) RecordSkipped(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.SkippedCount += n
	return t.save()
}

// MarkPaused records a pause.
func (t *Tracker) MarkPaused() error {
	return t.setStatus(model.ProgressPaused, "paused")
}

// MarkProcessing records a resume after a pause.
func (t *Tracker) MarkProcessing() error {
	return t.setStatus(model.ProgressProcessing, "processing")
}

// MarkCompleted records completion and the end time.
func (t *Tracker) MarkCompleted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.now()
	t.progress.Status = model.ProgressCompleted
	t.progress.EndTime = &end
	logger.Infof("Task %s completed: %d succeeded, %d failed, %d skipped",
		t.progress.TaskID, t.progress.SuccessCount, t.progress.ErrorCount, t.progress.SkippedCount)
	return t.save()
}

// MarkError records a task-level failure. Calling it again overwrites the message.
func (t *Tracker) MarkError(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	at := t.now()
	t.progress.Status = model.ProgressError
	t.progress.LastError = message
	t.progress.ErrorTime = &at
	logger.Errorf("Task %s failed: %s", t.progress.TaskID, message)
	return t.save()
}

// GetProgress returns a copy of the progress with fresh derived statistics.
func (t *Tracker) GetProgress() model.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.progress
	p.CalculateStats(t.now())
	return p
}

// OutputFiles returns the task's file paths.
func (t *Tracker) OutputFiles() model.OutputFiles {
	return t.files
}

func (t *Tracker) setStatus(status model.ProgressStatus, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Status = status
	logger.Infof("Task %s %s", t.progress.TaskID, label)
	return t.save()
}

// save refreshes the statistics and rewrites progress.json through a rename.
// Callers hold t.mu.
func (t *Tracker) save() error {
	now := t.now()
	t.progress.LastUpdateTime = now
	t.progress.CalculateStats(now)

	data, err := json.MarshalIndent(t.progress, "", "  ")
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to encode progress", err, false, false)
	}
	if err := writeFileAtomic(t.files.ProgressFile, data); err != nil {
		return exception.NewBatchError(moduleName, "failed to save progress", err, false, false)
	}
	return nil
}

// ReadProgress loads a progress file without a tracker.
func ReadProgress(path string) (*model.Progress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &p, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
