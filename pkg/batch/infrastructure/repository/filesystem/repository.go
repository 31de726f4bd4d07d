// Package filesystem implements the task registry on the local file system:
// one directory per task holding metadata.json, progress.json and the output files.
package filesystem

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	storageAdapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/serialization"
)

const (
	moduleName = "registry"

	metadataFileName = "metadata.json"
	progressFileName = "progress.json"
)

// TaskRepository stores tasks below the root of a storage connection.
type TaskRepository struct {
	conn     storageAdapter.StorageConnection
	baseDir  string
	identity string
	now      func() time.Time
	mu       sync.Mutex
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

// Option customises a TaskRepository.
type Option func(*TaskRepository)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *TaskRepository) { r.now = now }
}

// NewTaskRepository creates a registry rooted at conn. identity selects how
// data files are fingerprinted (config.IdentityPath or config.IdentityContent).
func NewTaskRepository(conn storageAdapter.StorageConnection, identity string, opts ...Option) (*TaskRepository, error) {
	baseDir, err := conn.Resolve("", "")
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to resolve task base directory", err, false, false)
	}
	if identity == "" {
		identity = config.IdentityPath
	}
	r := &TaskRepository{conn: conn, baseDir: baseDir, identity: identity, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create task base directory", err, false, false)
	}
	return r, nil
}

// CreateTask allocates a new task directory and writes its metadata.
func (r *TaskRepository) CreateTask(ctx context.Context, dataFile string, cfg model.IdentityConfig, selectedFields []int) (*model.TaskInfo, error) {
	fileHash, err := r.fileHash(dataFile)
	if err != nil {
		return nil, err
	}
	configHash, err := ConfigHash(cfg)
	if err != nil {
		return nil, err
	}
	suffix, err := randomHex(4)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to generate task id", err, false, false)
	}

	now := r.now()
	id := fmt.Sprintf("task_%d_%s_%s_%s", now.UnixMilli(), suffix, fileHash[:8], configHash[:8])
	snapshot, err := serialization.ToMap(cfg)
	if err != nil {
		return nil, err
	}

	fields := make([]int, len(selectedFields))
	copy(fields, selectedFields)
	task := &model.TaskInfo{
		ID:             id,
		Status:         model.TaskStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
		DataFile:       dataFile,
		DataFileHash:   fileHash,
		ConfigHash:     configHash,
		SelectedFields: fields,
		StartPos:       cfg.Window.StartPos,
		EndPos:         cfg.Window.EndPos,
		Config:         serialization.GetMaskedParametersMap(snapshot),
		Files:          r.outputFiles(id, now),
		MetadataFile:   filepath.Join(r.baseDir, id, metadataFileName),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(task.Files.TaskDir, 0o755); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create task directory", err, false, false)
	}
	if err := r.writeMetadata(task); err != nil {
		return nil, err
	}
	logger.Infof("Created task %s for %s", id, dataFile)
	return task, nil
}

// FindResumableTask returns the newest non-completed task whose file identity
// and configuration hash both match.
func (r *TaskRepository) FindResumableTask(ctx context.Context, dataFile string, cfg model.IdentityConfig) (*model.TaskInfo, error) {
	fileHash, err := r.fileHash(dataFile)
	if err != nil {
		return nil, err
	}
	configHash, err := ConfigHash(cfg)
	if err != nil {
		return nil, err
	}

	tasks, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.DataFileHash == fileHash && t.ConfigHash == configHash && t.Status.IsResumable() {
			logger.Infof("Found resumable task %s (%s)", t.ID, t.Status)
			return t, nil
		}
	}
	logger.Debugf("No resumable task for %s", dataFile)
	return nil, nil
}

// GetTask loads the task called taskID.
func (r *TaskRepository) GetTask(ctx context.Context, taskID string) (*model.TaskInfo, error) {
	if !validName(taskID) {
		return nil, repository.ErrTaskNotFound
	}
	task, err := r.readMetadata(taskID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, repository.ErrTaskNotFound
	}
	return task, err
}

// UpdateTaskStatus rewrites the task's metadata with status.
func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Status = status
	task.UpdatedAt = r.now()
	if err := r.writeMetadata(task); err != nil {
		return err
	}
	logger.Infof("Task %s is now %s", taskID, status)
	return nil
}

// ListTasks returns every task, newest first.
func (r *TaskRepository) ListTasks(ctx context.Context) ([]model.TaskSummary, error) {
	tasks, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]model.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Summary())
	}
	return out, nil
}

// CleanupOldTasks removes every task created before now minus maxAgeDays.
// Failures on individual tasks are collected and returned together with the
// number of tasks that were removed.
func (r *TaskRepository) CleanupOldTasks(ctx context.Context, maxAgeDays int) (int, error) {
	tasks, err := r.loadAll()
	if err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	removed := 0
	for _, t := range tasks {
		if !t.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.conn.DeleteBucket(ctx, t.ID); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed++
		logger.Infof("Removed expired task %s", t.ID)
	}
	logger.Infof("Cleanup removed %d tasks older than %d days", removed, maxAgeDays)
	return removed, result.ErrorOrNil()
}

// FindFile returns the path of the output file called name in any task directory.
func (r *TaskRepository) FindFile(ctx context.Context, name string) (string, error) {
	if !validName(name) {
		return "", repository.ErrFileNotFound
	}
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return "", exception.NewBatchError(moduleName, "failed to read task base directory", err, false, false)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(r.baseDir, e.Name(), name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", repository.ErrFileNotFound
}

// loadAll reads every task with readable metadata, newest first.
func (r *TaskRepository) loadAll() ([]*model.TaskInfo, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read task base directory", err, false, false)
	}
	tasks := make([]*model.TaskInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := r.readMetadata(e.Name())
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warnf("Skipping task directory %s: %v", e.Name(), err)
			}
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (r *TaskRepository) readMetadata(dirName string) (*model.TaskInfo, error) {
	path := filepath.Join(r.baseDir, dirName, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var task model.TaskInfo
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid metadata in %s", path), err, false, false)
	}
	task.ID = dirName
	task.MetadataFile = path
	if task.Files.TaskDir == "" {
		// metadata written without file paths falls back to fixed names
		dir := filepath.Join(r.baseDir, dirName)
		task.Files = model.OutputFiles{
			TaskDir:         dir,
			ProgressFile:    filepath.Join(dir, progressFileName),
			ErrorFile:       filepath.Join(dir, "errors.csv"),
			SuccessFile:     filepath.Join(dir, "results.csv"),
			RawResponseFile: filepath.Join(dir, "raw_responses.jsonl"),
		}
	}
	return &task, nil
}

// writeMetadata rewrites metadata.json through a rename. Callers hold r.mu.
func (r *TaskRepository) writeMetadata(task *model.TaskInfo) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to encode metadata", err, false, false)
	}
	err = r.conn.Upload(context.Background(), task.ID, metadataFileName, bytes.NewReader(data), "application/json")
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to write metadata", err, false, false)
	}
	return nil
}

func (r *TaskRepository) outputFiles(id string, created time.Time) model.OutputFiles {
	dir := filepath.Join(r.baseDir, id)
	short := ShortID(id)
	ts := FileTimestamp(created)
	return model.OutputFiles{
		TaskDir:         dir,
		ProgressFile:    filepath.Join(dir, progressFileName),
		ErrorFile:       filepath.Join(dir, fmt.Sprintf("errors_%s_%s.csv", short, ts)),
		SuccessFile:     filepath.Join(dir, fmt.Sprintf("results_%s_%s.csv", short, ts)),
		RawResponseFile: filepath.Join(dir, fmt.Sprintf("raw_responses_%s_%s.jsonl", short, ts)),
	}
}

func (r *TaskRepository) fileHash(dataFile string) (string, error) {
	if r.identity == config.IdentityContent {
		return contentHash(dataFile)
	}
	return PathHash(dataFile), nil
}

// ShortID returns the last two underscore separated parts of a task id.
func ShortID(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return id
	}
	return strings.Join(parts[len(parts)-2:], "_")
}

// FileTimestamp formats t as an ISO-8601 UTC time to the second, safe for file names.
func FileTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05"), ":", "-")
}

// PathHash fingerprints a data file by path, size and modification time.
// A file that cannot be stat'ed is fingerprinted by path alone.
func PathHash(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return serialization.MD5Hex([]byte(path))
	}
	return serialization.MD5Hex([]byte(fmt.Sprintf("%s_%d_%d", path, info.Size(), info.ModTime().UnixMilli())))
}

// ConfigHash returns the md5 of the canonical JSON of cfg.
func ConfigHash(cfg model.IdentityConfig) (string, error) {
	return serialization.HashCanonical(cfg)
}

func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", exception.NewBatchError(moduleName, "failed to open data file for hashing", err, false, false)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", exception.NewBatchError(moduleName, "failed to hash data file", err, false, false)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validName rejects empty names and anything that could leave the base directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
