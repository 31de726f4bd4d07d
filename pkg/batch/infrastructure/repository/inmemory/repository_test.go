package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/core/domain/repository"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRunRepository()

	run := model.NewRun("task_1", 0, map[string]interface{}{"apiKey": "sk-123", "batchSize": 5})
	require.NoError(t, repo.SaveRun(ctx, run))
	assert.Error(t, repo.SaveRun(ctx, run), "duplicate id")

	run.Finish(model.RunStatusCompleted, 10, 9, 1, "")
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err := repo.FindRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 10, got.EndPosition)
	assert.NotNil(t, got.EndTime)
	assert.Equal(t, "********", got.Parameters["apiKey"])

	got.Status = model.RunStatusError
	again, _ := repo.FindRunByID(ctx, run.ID)
	assert.Equal(t, model.RunStatusCompleted, again.Status, "returned runs are copies")
}

func TestRunNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRunRepository()

	_, err := repo.FindRunByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
	assert.ErrorIs(t, repo.UpdateRun(ctx, &model.Run{ID: "missing"}), repository.ErrRunNotFound)
}

func TestFindRunsByTaskIDOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRunRepository()
	base := time.Now()

	for i, offset := range []int{3, 1, 2} {
		run := model.NewRun("task_a", i, nil)
		run.StartTime = base.Add(time.Duration(offset) * time.Second)
		require.NoError(t, repo.SaveRun(ctx, run))
	}
	require.NoError(t, repo.SaveRun(ctx, model.NewRun("task_b", 0, nil)))

	runs, err := repo.FindRunsByTaskID(ctx, "task_a")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 1, runs[0].StartPosition)
	assert.Equal(t, 2, runs[1].StartPosition)
	assert.Equal(t, 0, runs[2].StartPosition)
}
