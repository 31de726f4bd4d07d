// Package local provides a local file system implementation of the storage adapter interfaces.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageAdapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this local storage provider.
	ProviderType = "local"
)

// ErrOutsideBaseDir is returned when a path escapes the connection root.
var ErrOutsideBaseDir = errors.New("path is outside of the base directory")

type localAdapter struct {
	cfg  storageConfig.StorageConfig
	name string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a local connection rooted at cfg.BaseDir, creating the directory if needed.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir must be specified in configuration", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local storage adapter '%s': failed to stat BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage adapter '%s': failed to create BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir '%s' is not a directory", name, cfg.BaseDir)
	}

	return &localAdapter{cfg: cfg, name: name}, nil
}

func (a *localAdapter) Close() error {
	logger.Debugf("Local storage adapter '%s' closed.", a.name)
	return nil
}

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Name() string { return a.name }

// Upload writes data to bucket/objectName through a temporary file so readers
// never observe a partial object.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.Resolve(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move upload to '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.Resolve(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// ListObjects walks bucket and reports object names relative to it, using '/' separators.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.Resolve(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return nil
	}

	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", path, basePath, err)
		}
		objectName = filepath.ToSlash(objectName)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.Resolve(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local adapter '%s').", fullPath, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted object '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

func (a *localAdapter) DeleteBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return fmt.Errorf("refusing to delete the root of local adapter '%s'", a.name)
	}
	fullPath, err := a.Resolve(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("failed to delete directory '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted directory '%s' (local adapter '%s').", fullPath, a.name)
	return nil
}

// Resolve joins bucket and objectName below BaseDir and rejects the result if it escapes BaseDir.
func (a *localAdapter) Resolve(bucket, objectName string) (string, error) {
	fullPath := filepath.Join(a.cfg.BaseDir, bucket, objectName)

	absBaseDir, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", a.cfg.BaseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	rel, err := filepath.Rel(absBaseDir, absFullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s' (base '%s')", ErrOutsideBaseDir, fullPath, a.cfg.BaseDir)
	}
	return fullPath, nil
}

// LocalProvider manages the named local connections derived from the task configuration.
type LocalProvider struct {
	configs     storageConfig.DatasourcesConfig
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewLocalProvider creates a provider exposing the "tasks" and "uploads" connections.
func NewLocalProvider(cfg *coreConfig.Config) storageAdapter.StorageProvider {
	task := cfg.PromptBatch.Task
	return NewLocalProviderFromConfigs(storageConfig.DatasourcesConfig{
		storageAdapter.ConnectionTasks:   {Type: ProviderType, BaseDir: task.BaseDir},
		storageAdapter.ConnectionUploads: {Type: ProviderType, BaseDir: task.UploadDir},
	})
}

// NewLocalProviderFromConfigs creates a provider over explicit connection configurations.
func NewLocalProviderFromConfigs(configs storageConfig.DatasourcesConfig) *LocalProvider {
	return &LocalProvider{
		configs:     configs,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

func (p *LocalProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	storageCfg, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration for name '%s' not found", name)
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}

	newConn, err := NewLocalAdapter(storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create local adapter for '%s': %w", name, err)
	}

	p.connections[name] = newConn
	logger.Debugf("Created new local storage connection '%s' at '%s'.", name, storageCfg.BaseDir)
	return newConn, nil
}

func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close local storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

func (p *LocalProvider) Type() string {
	return ProviderType
}
