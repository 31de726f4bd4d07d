// Package inmemory provides an in-memory run history, suitable for tests and
// deployments where history need not survive a restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/serialization"
)

// InMemoryRunRepository is an in-memory implementation of repository.RunRepository.
type InMemoryRunRepository struct {
	runs map[string]*model.Run
	mu   sync.RWMutex
}

var _ repository.RunRepository = (*InMemoryRunRepository)(nil)

// NewInMemoryRunRepository creates an empty repository.
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{runs: make(map[string]*model.Run)}
}

// SaveRun persists a new run. It returns an error if the id is taken.
func (r *InMemoryRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("run with ID %s already exists", run.ID)
	}
	r.runs[run.ID] = clone(run)
	return nil
}

// UpdateRun replaces an existing run.
func (r *InMemoryRunRepository) UpdateRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, repository.ErrRunNotFound)
	}
	r.runs[run.ID] = clone(run)
	return nil
}

// FindRunByID finds a run by its id.
func (r *InMemoryRunRepository) FindRunByID(ctx context.Context, id string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	return clone(run), nil
}

// FindRunsByTaskID returns the runs of a task ordered by start time.
func (r *InMemoryRunRepository) FindRunsByTaskID(ctx context.Context, taskID string) ([]*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*model.Run
	for _, run := range r.runs {
		if run.TaskID == taskID {
			runs = append(runs, clone(run))
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs, nil
}

// Close is a no-op.
func (r *InMemoryRunRepository) Close() error {
	return nil
}

// clone copies run so callers cannot mutate stored state. Parameters are masked on the way in.
func clone(run *model.Run) *model.Run {
	c := *run
	if run.EndTime != nil {
		end := *run.EndTime
		c.EndTime = &end
	}
	if run.Parameters != nil {
		c.Parameters = serialization.GetMaskedParametersMap(run.Parameters)
	}
	return &c
}
