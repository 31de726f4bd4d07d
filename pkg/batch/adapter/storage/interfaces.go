// Package storage defines the storage adapter interfaces used for task
// workspaces and uploaded data files.
package storage

import (
	"context"
	"io"
)

// Well-known connection names.
const (
	// ConnectionTasks holds one directory per task.
	ConnectionTasks = "tasks"
	// ConnectionUploads holds data files received through the HTTP API.
	ConnectionUploads = "uploads"
)

// StorageExecutor defines generic storage operations. A bucket is a
// directory below the connection root; an empty bucket addresses the root.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName, creating parent directories.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object below bucket whose name starts with prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Missing objects are not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// DeleteBucket removes bucket and everything in it.
	DeleteBucket(ctx context.Context, bucket string) error
}

// StorageConnection is a named storage root.
type StorageConnection interface {
	StorageExecutor

	// Resolve returns the local path of bucket/objectName, rejecting paths outside the root.
	Resolve(bucket, objectName string) (string, error)
	Name() string
	Type() string
	Close() error
}

// StorageProvider manages named connections of one storage type.
type StorageProvider interface {
	// GetConnection returns the connection called name, creating it on first use.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes every connection.
	CloseAll() error
	Type() string
}
