package model

import "time"

// RunStatus is the state of one orchestrator invocation.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusError     RunStatus = "error"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsFinished reports whether the run can no longer change.
func (s RunStatus) IsFinished() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusError:
		return true
	default:
		return false
	}
}

// Run records one invocation of the orchestrator over a task. Resuming a task
// always creates a new Run; finished runs are never mutated again.
type Run struct {
	ID            string                 `json:"id"`
	TaskID        string                 `json:"taskId"`
	Status        RunStatus              `json:"status"`
	StartTime     time.Time              `json:"startTime"`
	EndTime       *time.Time             `json:"endTime,omitempty"`
	StartPosition int                    `json:"startPosition"`
	EndPosition   int                    `json:"endPosition"`
	SuccessCount  int                    `json:"successCount"`
	ErrorCount    int                    `json:"errorCount"`
	LastError     string                 `json:"lastError,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	LastUpdated   time.Time              `json:"lastUpdated"`
}

// NewRun creates a running Run for taskID starting at position.
func NewRun(taskID string, position int, params map[string]interface{}) *Run {
	now := time.Now()
	return &Run{
		ID:            NewID(),
		TaskID:        taskID,
		Status:        RunStatusRunning,
		StartTime:     now,
		StartPosition: position,
		EndPosition:   position,
		Parameters:    params,
		LastUpdated:   now,
	}
}

// Finish moves the run to a terminal or paused state.
func (r *Run) Finish(status RunStatus, endPosition, successes, errors int, lastError string) {
	now := time.Now()
	r.Status = status
	r.EndPosition = endPosition
	r.SuccessCount = successes
	r.ErrorCount = errors
	r.LastError = lastError
	r.LastUpdated = now
	if status.IsFinished() {
		r.EndTime = &now
	}
}
