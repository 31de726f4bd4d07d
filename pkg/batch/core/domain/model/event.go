package model

import "time"

// EventType names an orchestrator event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventPaused    EventType = "paused"
	EventStopped   EventType = "stopped"
)

// Event is pushed to observers once per batch and at lifecycle milestones.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    string            `json:"taskId"`
	RunID     string            `json:"runId,omitempty"`
	Message   string            `json:"message,omitempty"`
	Progress  *ProgressSnapshot `json:"progress,omitempty"`
	Result    *Summary          `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// StatusReport answers a status query.
type StatusReport struct {
	TaskID    string            `json:"taskId"`
	Found     bool              `json:"found"`
	Active    bool              `json:"active"`
	IsPaused  bool              `json:"isPaused"`
	Status    string            `json:"status"`
	Progress  *Progress         `json:"progress,omitempty"`
	Snapshot  *ProgressSnapshot `json:"snapshot,omitempty"`
	Files     *OutputFiles      `json:"outputFiles,omitempty"`
}

// StatusNotFound is the status of an unknown task.
const StatusNotFound = "not_found"
