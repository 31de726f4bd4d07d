// Package reader implements the tabular reader: CSV, spreadsheet and JSON(L)
// files exposed as a lazy sequence of row batches with column selection and a
// start/end row window.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const moduleName = "reader"

// ErrUnsupportedFormat is returned for file extensions the reader cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported file format")

func init() {
	exception.RegisterErrorType("ErrUnsupportedFormat", ErrUnsupportedFormat)
}

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 5

// Options configures a TabularReader.
type Options struct {
	BatchSize int
	// FieldIndices selects the columns joined into RowRecord.Content. Empty selects column 0.
	FieldIndices []int
	// StartPos is the first data row read; negative values are clamped to 0.
	StartPos int
	// EndPos is the exclusive end of the window; nil reads to the end.
	EndPos *int
}

// rowSource yields raw data rows after the header.
type rowSource interface {
	header() []string
	next() ([]string, error)
	close() error
}

// TabularReader reads batches of rows from one data file. It is not restartable:
// once Next returns io.EOF a new reader must be opened.
type TabularReader struct {
	path  string
	opts  Options
	src   rowSource
	index int // data index of the next raw row
	done  bool
}

// Open opens path and prepares a batched read. Unsupported extensions and
// unreadable or malformed files fail here, before any batch is produced.
func Open(path string, opts Options) (*TabularReader, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.StartPos < 0 {
		opts.StartPos = 0
	}
	if len(opts.FieldIndices) == 0 {
		opts.FieldIndices = []int{0}
	}

	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Opened %s with columns [%s]", path, strings.Join(src.header(), ", "))
	return &TabularReader{path: path, opts: opts, src: src}, nil
}

func openSource(path string) (rowSource, error) {
	var (
		src rowSource
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		src, err = newCSVSource(path)
	case ".xlsx", ".xls":
		src, err = newSheetSource(path)
	case ".json", ".jsonl":
		src, err = newJSONSource(path)
	default:
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("unsupported file format: %q", ext), ErrUnsupportedFormat, false, false)
	}
	if err != nil {
		if exception.IsBatchError(err) {
			return nil, err
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to open %s", path), err, false, false)
	}
	return src, nil
}

// Headers returns the column names of the file.
func (r *TabularReader) Headers() []string {
	return r.src.header()
}

// Next returns the next batch of at most BatchSize rows, or io.EOF when the
// window is exhausted.
func (r *TabularReader) Next(ctx context.Context) ([]model.RowRecord, error) {
	if r.done {
		return nil, io.EOF
	}
	batch := make([]model.RowRecord, 0, r.opts.BatchSize)
	for len(batch) < r.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.opts.EndPos != nil && r.index >= *r.opts.EndPos {
			r.done = true
			break
		}
		values, err := r.src.next()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read row %d of %s", r.index, r.path), err, false, false)
		}
		idx := r.index
		r.index++
		if idx < r.opts.StartPos {
			continue
		}
		batch = append(batch, buildRow(idx, values, r.opts.FieldIndices))
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	logger.Debugf("Read batch of %d rows (%d-%d) from %s", len(batch), batch[0].Index+1, batch[len(batch)-1].Index+1, r.path)
	return batch, nil
}

// Batches ranges over the remaining batches. Iteration stops after the first
// error, which is yielded with a nil batch; exhaustion is not reported as an error.
func (r *TabularReader) Batches(ctx context.Context) iter.Seq2[[]model.RowRecord, error] {
	return func(yield func([]model.RowRecord, error) bool) {
		for {
			batch, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// Close releases the underlying file.
func (r *TabularReader) Close() error {
	return r.src.close()
}

// buildRow joins the selected, trimmed, non-empty values with a single space.
func buildRow(index int, values []string, fields []int) model.RowRecord {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f < 0 || f >= len(values) {
			continue
		}
		if v := strings.TrimSpace(values[f]); v != "" {
			parts = append(parts, v)
		}
	}
	original := make([]string, len(values))
	copy(original, values)
	selected := make([]int, len(fields))
	copy(selected, fields)
	return model.RowRecord{
		Index:           index,
		Content:         strings.Join(parts, " "),
		OriginalData:    original,
		ProcessedFields: selected,
	}
}

// CountRows scans path and returns its number of data rows. It is independent
// of any open reader.
func CountRows(path string) (int, error) {
	src, err := openSource(path)
	if err != nil {
		return 0, err
	}
	defer src.close()

	count := 0
	for {
		_, err := src.next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, exception.NewBatchError(moduleName, fmt.Sprintf("failed to count rows of %s", path), err, false, false)
		}
		count++
	}
}

// WindowSize returns how many of total rows fall inside [start, end).
func WindowSize(total, start int, end *int) int {
	if start < 0 {
		start = 0
	}
	stop := total
	if end != nil && *end < stop {
		stop = *end
	}
	if stop <= start {
		return 0
	}
	return stop - start
}
