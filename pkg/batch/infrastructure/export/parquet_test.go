package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	plocal "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/promptbatch/pkg/batch/adapter/storage/local"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

func newExporter(t *testing.T, base string) *ParquetExporter {
	t.Helper()
	conn, err := local.NewLocalAdapter(config.StorageConfig{Type: "local", BaseDir: base}, "tasks")
	require.NoError(t, err)
	exp, err := NewParquetExporter(conn, "")
	require.NoError(t, err)
	return exp
}

func TestExportResults(t *testing.T) {
	base := t.TempDir()
	taskDir := filepath.Join(base, "task_1")
	require.NoError(t, os.MkdirAll(taskDir, 0o755))

	csvPath := filepath.Join(taskDir, "results_ab_cd_20240501.csv")
	content := "position,input,output,\"score, final\"\n1,\"Alice\",\"{\"\"a\"\":1}\",9\n2,\"Bob\",\"{}\"\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(content), 0o644))

	exp := newExporter(t, base)
	res, err := exp.Export(context.Background(), model.OutputFiles{TaskDir: taskDir, SuccessFile: csvPath})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, "results_ab_cd_20240501.parquet", res.Name)
	assert.Equal(t, filepath.Join(taskDir, res.Name), res.File)

	data, err := os.ReadFile(res.File)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))

	pf, err := plocal.NewLocalFileReader(res.File)
	require.NoError(t, err)
	defer pf.Close()
	pr, err := reader.NewParquetReader(pf, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	assert.EqualValues(t, 2, pr.GetNumRows())
}

func TestExportMissingResults(t *testing.T) {
	base := t.TempDir()
	exp := newExporter(t, base)
	_, err := exp.Export(context.Background(), model.OutputFiles{
		TaskDir:     filepath.Join(base, "task_1"),
		SuccessFile: filepath.Join(base, "task_1", "results.csv"),
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "score__final", ColumnName("score, final", 0))
	assert.Equal(t, "c_1st", ColumnName("1st", 0))
	assert.Equal(t, "column_3", ColumnName("  ", 2))
	assert.Equal(t, "名前", ColumnName("名前", 0))

	md := schemaFor([]string{"a b", "a-b"})
	assert.Contains(t, md[0], "name=a_b,")
	assert.Contains(t, md[1], "name=a_b_2,")
}

func TestUnsupportedCompression(t *testing.T) {
	_, err := NewParquetExporter(nil, "LZ4")
	assert.Error(t, err)
}
