package sql

import "time"

// RunEntity is the persistence schema of a run.
type RunEntity struct {
	ID            string     `gorm:"column:id;primaryKey"`
	TaskID        string     `gorm:"column:task_id;index"`
	Status        string     `gorm:"column:status"`
	StartTime     time.Time  `gorm:"column:start_time"`
	EndTime       *time.Time `gorm:"column:end_time"`
	StartPosition int        `gorm:"column:start_position"`
	EndPosition   int        `gorm:"column:end_position"`
	SuccessCount  int        `gorm:"column:success_count"`
	ErrorCount    int        `gorm:"column:error_count"`
	LastError     string     `gorm:"column:last_error"`
	Parameters    string     `gorm:"column:parameters"` // masked JSON
	LastUpdated   time.Time  `gorm:"column:last_updated"`
}

// TableName returns the history table name.
func (RunEntity) TableName() string {
	return "batch_run"
}
