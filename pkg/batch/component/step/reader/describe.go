package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// PreviewRows is the number of data rows Describe returns.
const PreviewRows = 5

// Column describes one field of a data file.
type Column struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// FileInfo summarises a data file for field selection.
type FileInfo struct {
	Name      string              `json:"fileName"`
	Size      int64               `json:"fileSize"`
	Format    string              `json:"fileType"`
	TotalRows int                 `json:"totalRows"`
	Columns   []Column            `json:"columns"`
	Preview   []map[string]string `json:"preview"`
}

// Describe returns the columns, row count and the first rows of path.
// Blank header cells are named ColumnN (1-based).
func Describe(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("cannot stat %s", path), err, false, false)
	}
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.close()

	header := src.header()
	columns := make([]Column, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("Column%d", i+1)
		}
		columns[i] = Column{Index: i, Name: name, Type: "string"}
	}

	info := &FileInfo{
		Name:    filepath.Base(path),
		Size:    stat.Size(),
		Format:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Columns: columns,
		Preview: []map[string]string{},
	}
	for {
		values, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read %s", path), err, false, false)
		}
		if info.TotalRows < PreviewRows {
			info.Preview = append(info.Preview, previewRow(columns, values))
		}
		info.TotalRows++
	}
	return info, nil
}

func previewRow(columns []Column, values []string) map[string]string {
	row := make(map[string]string, len(columns))
	for _, c := range columns {
		if c.Index < len(values) {
			row[c.Name] = values[c.Index]
		} else {
			row[c.Name] = ""
		}
	}
	return row
}

// ValidateFields checks that every selected index addresses a column of info.
func ValidateFields(info *FileInfo, fields []int) error {
	for _, f := range fields {
		if f < 0 || f >= len(info.Columns) {
			return exception.NewValidationError(moduleName,
				fmt.Sprintf("selected field index %d out of range, file has %d columns", f, len(info.Columns)))
		}
	}
	return nil
}
