package sql

import (
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/serialization"
)

func fromDomainRun(run *model.Run) (*RunEntity, error) {
	if run == nil {
		return nil, nil
	}
	entity := &RunEntity{
		ID:            run.ID,
		TaskID:        run.TaskID,
		Status:        run.Status.String(),
		StartTime:     run.StartTime.UTC(),
		StartPosition: run.StartPosition,
		EndPosition:   run.EndPosition,
		SuccessCount:  run.SuccessCount,
		ErrorCount:    run.ErrorCount,
		LastError:     run.LastError,
		LastUpdated:   run.LastUpdated.UTC(),
	}
	if run.EndTime != nil {
		end := run.EndTime.UTC()
		entity.EndTime = &end
	}
	if len(run.Parameters) > 0 {
		data, err := serialization.MarshalParameters(run.Parameters)
		if err != nil {
			return nil, err
		}
		entity.Parameters = string(data)
	}
	return entity, nil
}

func toDomainRun(entity *RunEntity) (*model.Run, error) {
	if entity == nil {
		return nil, nil
	}
	run := &model.Run{
		ID:            entity.ID,
		TaskID:        entity.TaskID,
		Status:        model.RunStatus(entity.Status),
		StartTime:     entity.StartTime,
		EndTime:       entity.EndTime,
		StartPosition: entity.StartPosition,
		EndPosition:   entity.EndPosition,
		SuccessCount:  entity.SuccessCount,
		ErrorCount:    entity.ErrorCount,
		LastError:     entity.LastError,
		LastUpdated:   entity.LastUpdated,
	}
	if entity.Parameters != "" {
		if err := serialization.UnmarshalParameters([]byte(entity.Parameters), &run.Parameters); err != nil {
			return nil, err
		}
	}
	return run, nil
}
