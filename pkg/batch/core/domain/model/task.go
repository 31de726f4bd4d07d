package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state recorded in a task's metadata.json.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusPaused     TaskStatus = "paused"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// IsResumable reports whether a task in this state may be picked up again by
// a start request with the same data file and configuration.
func (s TaskStatus) IsResumable() bool {
	return s != TaskStatusCompleted
}

// OutputFiles lists the files a task writes inside its directory.
type OutputFiles struct {
	TaskDir         string `json:"taskDir"`
	SuccessFile     string `json:"successFile"`
	ErrorFile       string `json:"errorFile"`
	ProgressFile    string `json:"progressFile"`
	RawResponseFile string `json:"rawResponseFile"`
}

// TaskInfo binds one data file to one configuration.
// It is the content of metadata.json plus the resolved output paths.
type TaskInfo struct {
	ID             string                 `json:"id"`
	Status         TaskStatus             `json:"status"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	DataFile       string                 `json:"dataFile"`
	DataFileHash   string                 `json:"dataFileHash"`
	ConfigHash     string                 `json:"configHash"`
	SelectedFields []int                  `json:"selectedFields"`
	StartPos       int                    `json:"startPos"`
	EndPos         *int                   `json:"endPos,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
	Files          OutputFiles            `json:"files"`
	MetadataFile   string                 `json:"-"`
}

// TaskSummary is the listing view of a task.
type TaskSummary struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	DataFile  string     `json:"dataFile"`
}

// Summary returns the listing view of t.
func (t *TaskInfo) Summary() TaskSummary {
	return TaskSummary{ID: t.ID, Status: t.Status, CreatedAt: t.CreatedAt, DataFile: t.DataFile}
}

// ExportResult describes a finished results export.
type ExportResult struct {
	File string `json:"file"` // absolute path of the exported file
	Name string `json:"name"` // file name, usable with the download endpoint
	Rows int    `json:"rows"`
}

// NewID generates a random unique identifier.
func NewID() string {
	return uuid.New().String()
}
