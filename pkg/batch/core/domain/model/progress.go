package model

import (
	"math"
	"time"
)

// ProgressStatus is the state of a task's progress tracker.
type ProgressStatus string

const (
	ProgressInitializing ProgressStatus = "initializing"
	ProgressProcessing   ProgressStatus = "processing"
	ProgressResuming     ProgressStatus = "resuming"
	ProgressPaused       ProgressStatus = "paused"
	ProgressCompleted    ProgressStatus = "completed"
	ProgressError        ProgressStatus = "error"
)

// Progress is the persisted content of progress.json.
type Progress struct {
	TaskID                 string         `json:"taskId"`
	StartTime              time.Time      `json:"startTime"`
	LastUpdateTime         time.Time      `json:"lastUpdateTime"`
	EndTime                *time.Time     `json:"endTime,omitempty"`
	TotalRows              int            `json:"totalRows"`
	ProcessedRows          int            `json:"processedRows"`
	CurrentPosition        int            `json:"currentPosition"`
	SuccessCount           int            `json:"successCount"`
	ErrorCount             int            `json:"errorCount"`
	SkippedCount           int            `json:"skippedCount"`
	Status                 ProgressStatus `json:"status"`
	AverageTimePerRow      float64        `json:"averageTimePerRow"`
	EstimatedTimeRemaining float64        `json:"estimatedTimeRemaining"`
	ErrorRate              float64        `json:"errorRate"`
	LastError              string         `json:"lastError,omitempty"`
	ErrorTime              *time.Time     `json:"errorTime,omitempty"`
}

// NewProgress returns the initial progress for taskID.
func NewProgress(taskID string, now time.Time) Progress {
	return Progress{
		TaskID:         taskID,
		StartTime:      now,
		LastUpdateTime: now,
		Status:         ProgressInitializing,
	}
}

// CalculateStats refreshes the derived statistics relative to now.
// Nothing changes until at least one row has been processed.
func (p *Progress) CalculateStats(now time.Time) {
	if p.ProcessedRows <= 0 || p.StartTime.IsZero() {
		return
	}
	elapsed := now.Sub(p.StartTime).Seconds()
	p.AverageTimePerRow = elapsed / float64(p.ProcessedRows)
	remaining := p.TotalRows - p.ProcessedRows
	if remaining < 0 {
		remaining = 0
	}
	p.EstimatedTimeRemaining = float64(remaining) * p.AverageTimePerRow
	p.ErrorRate = float64(p.ErrorCount) / float64(p.ProcessedRows) * 100
}

// Percent returns processed/total as a rounded integer percentage.
func (p Progress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	return int(math.Round(float64(p.ProcessedRows) / float64(p.TotalRows) * 100))
}

// Speed returns throughput in rows per minute since StartTime.
func (p Progress) Speed(now time.Time) int {
	if p.StartTime.IsZero() || p.ProcessedRows <= 0 {
		return 0
	}
	minutes := now.Sub(p.StartTime).Minutes()
	if minutes <= 0 {
		return 0
	}
	return int(math.Round(float64(p.ProcessedRows) / minutes))
}

// ProgressSnapshot is the progress view carried by events and status reports.
type ProgressSnapshot struct {
	TotalRows      int            `json:"totalRows"`
	ProcessedRows  int            `json:"processedRows"`
	SuccessCount   int            `json:"successCount"`
	ErrorCount     int            `json:"errorCount"`
	SkippedCount   int            `json:"skippedCount"`
	Progress       int            `json:"progress"`
	Speed          int            `json:"speed"`
	Status         ProgressStatus `json:"status"`
	StartTime      time.Time      `json:"startTime"`
	LastUpdateTime time.Time      `json:"lastUpdateTime"`
}

// Snapshot builds the event view of p.
func (p Progress) Snapshot(now time.Time) ProgressSnapshot {
	return ProgressSnapshot{
		TotalRows:      p.TotalRows,
		ProcessedRows:  p.ProcessedRows,
		SuccessCount:   p.SuccessCount,
		ErrorCount:     p.ErrorCount,
		SkippedCount:   p.SkippedCount,
		Progress:       p.Percent(),
		Speed:          p.Speed(now),
		Status:         p.Status,
		StartTime:      p.StartTime,
		LastUpdateTime: p.LastUpdateTime,
	}
}

// Summary is the result of one orchestrator invocation.
type Summary struct {
	TotalRows     int         `json:"totalRows"`
	ProcessedRows int         `json:"processedRows"`
	SuccessCount  int         `json:"successCount"`
	ErrorCount    int         `json:"errorCount"`
	SkippedCount  int         `json:"skippedCount"`
	IsPaused      bool        `json:"isPaused"`
	TaskID        string      `json:"taskId"`
	OutputFiles   OutputFiles `json:"outputFiles"`
}
