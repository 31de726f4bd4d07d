// Package sql implements the run history on a relational database through gorm.
// The schema is owned by the embedded golang-migrate migrations.
package sql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/database"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "history"

// SQLRunRepository is a repository.RunRepository backed by a database connection.
type SQLRunRepository struct {
	conn database.DBConnection
}

var _ repository.RunRepository = (*SQLRunRepository)(nil)

// NewSQLRunRepository creates a repository over conn.
func NewSQLRunRepository(conn database.DBConnection) *SQLRunRepository {
	return &SQLRunRepository{conn: conn}
}

// SaveRun inserts a new run.
func (r *SQLRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	entity, err := fromDomainRun(run)
	if err != nil {
		return err
	}
	if err := r.conn.DB(ctx).Create(entity).Error; err != nil {
		return r.wrap("failed to save run", err)
	}
	logger.Debugf("Saved run %s for task %s.", run.ID, run.TaskID)
	return nil
}

// UpdateRun writes every mutable column of an existing run.
func (r *SQLRunRepository) UpdateRun(ctx context.Context, run *model.Run) error {
	entity, err := fromDomainRun(run)
	if err != nil {
		return err
	}
	result := r.conn.DB(ctx).
		Model(&RunEntity{}).
		Where("id = ?", entity.ID).
		Updates(map[string]interface{}{
			"status":        entity.Status,
			"end_time":      entity.EndTime,
			"end_position":  entity.EndPosition,
			"success_count": entity.SuccessCount,
			"error_count":   entity.ErrorCount,
			"last_error":    entity.LastError,
			"last_updated":  entity.LastUpdated,
		})
	if result.Error != nil {
		return r.wrap("failed to update run", result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrRunNotFound
	}
	return nil
}

// FindRunByID finds a run by its id.
func (r *SQLRunRepository) FindRunByID(ctx context.Context, id string) (*model.Run, error) {
	var entity RunEntity
	if err := r.conn.DB(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRunNotFound
		}
		return nil, r.wrap("failed to find run", err)
	}
	return toDomainRun(&entity)
}

// FindRunsByTaskID returns the runs of a task ordered by start time.
func (r *SQLRunRepository) FindRunsByTaskID(ctx context.Context, taskID string) ([]*model.Run, error) {
	var entities []RunEntity
	err := r.conn.DB(ctx).
		Where("task_id = ?", taskID).
		Order("start_time ASC").
		Find(&entities).Error
	if err != nil {
		if r.conn.IsTableNotExistError(err) {
			logger.Warnf("Run history table is missing; returning no runs for task %s.", taskID)
			return nil, nil
		}
		return nil, r.wrap("failed to list runs", err)
	}

	runs := make([]*model.Run, 0, len(entities))
	for i := range entities {
		run, err := toDomainRun(&entities[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Close closes the underlying connection.
func (r *SQLRunRepository) Close() error {
	return r.conn.Close()
}

func (r *SQLRunRepository) wrap(msg string, err error) error {
	return exception.NewBatchError(moduleName, msg, err, false, exception.IsTemporary(err))
}
