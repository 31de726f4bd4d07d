package progress

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// rawResponseLine is one line of the raw response log.
type rawResponseLine struct {
	TaskID      string      `json:"taskId"`
	Timestamp   time.Time   `json:"timestamp"`
	Position    int         `json:"position"`
	RawResponse interface{} `json:"rawResponse"`
}

// appendResults writes rows to the results file, creating it with a header
// from the first row's keys. Later rows are laid out in header order and
// keys the header lacks are dropped. Callers hold t.mu.
func (t *Tracker) appendResults(rows []model.ResultRow) error {
	header := t.header
	if header == nil {
		existing, err := readHeader(t.files.SuccessFile)
		if err != nil {
			return exception.NewBatchError(moduleName, "failed to read results header", err, false, false)
		}
		header = existing
	}

	var buf bytes.Buffer
	if header == nil {
		header = rows[0].Data.Keys()
		for i, key := range header {
			if i > 0 {
				buf.WriteByte(',')
			}
			if strings.ContainsAny(key, ",\"\r\n") {
				key = quote(key)
			}
			buf.WriteString(key)
		}
		buf.WriteByte('\n')
	}
	for _, row := range rows {
		for i, key := range header {
			if i > 0 {
				buf.WriteByte(',')
			}
			v, _ := row.Data.Get(key)
			buf.WriteString(formatValue(v))
		}
		buf.WriteByte('\n')
	}
	if err := appendFile(t.files.SuccessFile, buf.Bytes()); err != nil {
		return exception.NewBatchError(moduleName, "failed to append to results file", err, false, false)
	}
	t.header = header
	return nil
}

func (t *Tracker) appendRaw(rows []model.ResultRow) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	now := t.now()
	for _, row := range rows {
		if row.Raw == nil {
			continue
		}
		line := rawResponseLine{TaskID: t.progress.TaskID, Timestamp: now, Position: row.Position, RawResponse: row.Raw}
		if err := enc.Encode(line); err != nil {
			return exception.NewBatchError(moduleName, "failed to encode raw response", err, false, false)
		}
	}
	if buf.Len() == 0 {
		return nil
	}
	if err := appendFile(t.files.RawResponseFile, buf.Bytes()); err != nil {
		return exception.NewBatchError(moduleName, "failed to append to raw response log", err, false, false)
	}
	return nil
}

// readHeader returns the header of an existing results file, or nil when the file does not exist.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	return header, nil
}

// formatErrorLine renders one errors file line: content, message and timestamp are always quoted.
func formatErrorLine(index int, content, message string, at time.Time, retryCount int) string {
	return fmt.Sprintf("%d,%s,%s,%s,%d\n", index, quote(content), quote(message), quote(at.UTC().Format(time.RFC3339Nano)), retryCount)
}

// formatValue renders a result value: strings and structured values are quoted,
// numbers and booleans are written bare, nil is empty.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return quote(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return quote(fmt.Sprint(t))
		}
		return quote(string(data))
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
