// Package export converts a task's results file to Parquet.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "export"

// ParquetExporter writes results_*.parquet next to results_*.csv through the tasks storage connection.
// Every column is an optional UTF8 string; values are exported exactly as they appear in the CSV.
type ParquetExporter struct {
	conn        storageAdapter.StorageConnection
	compression parquet.CompressionCodec
}

// NewParquetExporter creates an exporter. compression is SNAPPY, GZIP or NONE; empty means SNAPPY.
func NewParquetExporter(conn storageAdapter.StorageConnection, compression string) (*ParquetExporter, error) {
	codec, err := getCompressionCodec(compression)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid compression type '%s'", compression), err, false, false)
	}
	return &ParquetExporter{conn: conn, compression: codec}, nil
}

// Export converts files.SuccessFile. A missing results file yields an error wrapping os.ErrNotExist.
func (e *ParquetExporter) Export(ctx context.Context, files model.OutputFiles) (*model.ExportResult, error) {
	header, rows, err := readResults(files.SuccessFile)
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, exception.NewBatchError(moduleName, "results file is empty", nil, false, false)
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewCSVWriterFromWriter(schemaFor(header), buf, 4)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create Parquet writer", err, false, false)
	}
	pw.CompressionType = e.compression

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := make([]*string, len(header))
		for j := range header {
			if j < len(row) {
				v := row[j]
				rec[j] = &v
			}
		}
		if err := pw.WriteString(rec); err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to write row %d to Parquet", i+1), err, false, false)
		}
	}
	if err := stopWriter(pw); err != nil {
		return nil, err
	}

	bucket := filepath.Base(files.TaskDir)
	name := strings.TrimSuffix(filepath.Base(files.SuccessFile), filepath.Ext(files.SuccessFile)) + ".parquet"
	if err := e.conn.Upload(ctx, bucket, name, buf, "application/octet-stream"); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to store Parquet file", err, false, false)
	}
	path, err := e.conn.Resolve(bucket, name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Exported %d rows to %s", len(rows), path)
	return &model.ExportResult{File: path, Name: name, Rows: len(rows)}, nil
}

func stopWriter(pw *writer.CSVWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchError(moduleName, fmt.Sprintf("Parquet writer panicked during WriteStop: %v", r), nil, false, false)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		return exception.NewBatchError(moduleName, "failed to finish Parquet file", stopErr, false, false)
	}
	return nil
}

// readResults loads the results CSV. Ragged rows are padded with nulls by the caller.
func readResults(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		return nil, nil, exception.NewBatchError(moduleName, "failed to open results file", err, false, false)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, exception.NewBatchError(moduleName, "failed to read results header", err, false, false)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, exception.NewBatchError(moduleName, "failed to read results file", err, false, false)
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// schemaFor builds parquet-go CSV metadata. Column names are reduced to
// letters, digits and underscores and made unique.
func schemaFor(header []string) []string {
	md := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := ColumnName(h, i)
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL", name)
	}
	return md
}

// ColumnName sanitizes a CSV header for use as a Parquet field name.
func ColumnName(h string, index int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		return fmt.Sprintf("column_%d", index+1)
	}
	if unicode.IsDigit([]rune(name)[0]) {
		name = "c_" + name
	}
	return name
}

func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
