package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

const jobYAML = `
dataFile: data/in.csv
selectedFields: [0, "3"]
apiConfig:
  api_type: llm
  api_url: http://localhost:8080
  api_key: ${PB_JOB_KEY}
  model: m1
  model_params:
    temperature: 0.2
promptConfig:
  system: sys
  task: classify
  output: json
options:
  batchSize: "4"
  startPos: 2
  retryInterval: 0.25
`

func writeJob(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadJobFile(t *testing.T) {
	t.Setenv("PB_JOB_KEY", "sk-test")
	req, err := loadJobFile(writeJob(t, jobYAML))
	require.NoError(t, err)

	assert.Equal(t, "data/in.csv", req.DataFile)
	assert.Equal(t, []int{0, 3}, req.SelectedFields)
	assert.Equal(t, "llm", req.APIConfig.APIType)
	assert.Equal(t, "m1", req.APIConfig.Model)
	assert.Equal(t, "sk-test", req.APIConfig.APIKey)
	assert.Equal(t, 0.2, req.APIConfig.ModelParams["temperature"])
	assert.Equal(t, "classify", req.PromptConfig.Task)
	assert.Equal(t, 4, req.Options.BatchSize)
	assert.Equal(t, 2, req.Options.StartPos)
	require.NotNil(t, req.Options.PacingInterval)
	assert.Equal(t, 0.25, *req.Options.PacingInterval)
	assert.Nil(t, req.Options.EndPos)
}

func TestLoadJobFile_Errors(t *testing.T) {
	_, err := loadJobFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadJobFile(writeJob(t, "dataFile: [unclosed"))
	assert.Error(t, err)
}

func TestJobOverrides(t *testing.T) {
	req := model.StartRequest{DataFile: "a.csv", SelectedFields: []int{0}}
	o := jobOverrides{DataFile: "b.csv", Fields: "1, 2", EndPos: 10, BatchSize: 3}
	require.NoError(t, o.apply(&req))

	assert.Equal(t, "b.csv", req.DataFile)
	assert.Equal(t, []int{1, 2}, req.SelectedFields)
	require.NotNil(t, req.Options.EndPos)
	assert.Equal(t, 10, *req.Options.EndPos)
	assert.Equal(t, 3, req.Options.BatchSize)
	assert.Equal(t, 0, req.Options.StartPos)

	assert.Error(t, jobOverrides{Fields: "1,x"}.apply(&req))
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "no task ran", formatSummary(nil))

	s := &model.Summary{TaskID: "task_1", ProcessedRows: 4, SuccessCount: 3, ErrorCount: 1, IsPaused: true,
		OutputFiles: model.OutputFiles{SuccessFile: "/t/results.csv"}}
	assert.Equal(t, "task task_1 stopped (resumable): processed=4 success=3 errors=1 skipped=0 results=/t/results.csv", formatSummary(s))
}

func TestRootCommand(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		var out bytes.Buffer
		cmd := NewRootCommand(nil)
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})
		require.NoError(t, cmd.Execute())
		assert.Equal(t, "promptbatch dev\n", out.String())
	})

	t.Run("inspect", func(t *testing.T) {
		data := filepath.Join(t.TempDir(), "people.csv")
		require.NoError(t, os.WriteFile(data, []byte("name,age\nAlice,30\n"), 0o644))

		var out bytes.Buffer
		cmd := NewRootCommand(nil)
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"inspect", data})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), `"totalRows": 1`)
		assert.Contains(t, out.String(), `"name": "age"`)
	})

	t.Run("inspect needs a file", func(t *testing.T) {
		cmd := NewRootCommand(nil)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"inspect"})
		assert.Error(t, cmd.Execute())
	})
}
