package reader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

// jsonSource holds the decoded rows of a JSON or JSON Lines file.
// A file whose trimmed content is a single line is parsed as one document:
// an array yields one row per element, anything else one row. Otherwise every
// non-empty line is parsed on its own and unparsable lines are skipped.
type jsonSource struct {
	columns []string
	rows    [][]string
	pos     int
}

func newJSONSource(path string) (*jsonSource, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(content, []byte(utf8BOM)))
	if len(trimmed) == 0 {
		return &jsonSource{}, nil
	}

	var items []interface{}
	lines := strings.Split(string(trimmed), "\n")
	switch {
	case len(lines) == 1:
		items, err = decodeDocument(trimmed)
		if err != nil {
			return nil, exception.NewBatchError(moduleName, "invalid JSON format", err, false, false)
		}
	case trimmed[0] == '[':
		// A pretty-printed array spans many lines but is still one document.
		if items, err = decodeDocument(trimmed); err != nil {
			items = decodeLines(path, lines)
		}
	default:
		items = decodeLines(path, lines)
	}
	return buildJSONSource(items), nil
}

func decodeDocument(data []byte) ([]interface{}, error) {
	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		items := make([]interface{}, 0, len(raw))
		for _, r := range raw {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	}
	v, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	return []interface{}{v}, nil
}

func decodeLines(path string, lines []string) []interface{} {
	items := make([]interface{}, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := decodeValue([]byte(line))
		if err != nil {
			preview := line
			if len(preview) > 50 {
				preview = preview[:50]
			}
			logger.Warnf("Skipping line %d of %s, invalid JSON: %s...", i+1, path, preview)
			continue
		}
		items = append(items, v)
	}
	return items
}

// decodeValue keeps object key order by decoding objects as model.Record.
func decodeValue(data []byte) (interface{}, error) {
	rec, err := model.DecodeRecord(data)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, model.ErrNotObject) {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json value")
	}
	return v, nil
}

// buildJSONSource derives the columns from object keys in order of first
// appearance and lays every row out in that column order.
func buildJSONSource(items []interface{}) *jsonSource {
	var columns []string
	seen := map[string]int{}
	for _, item := range items {
		if rec, ok := item.(model.Record); ok {
			for _, k := range rec.Keys() {
				if _, dup := seen[k]; !dup {
					seen[k] = len(columns)
					columns = append(columns, k)
				}
			}
		}
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case model.Record:
			row := make([]string, len(columns))
			for _, f := range v {
				row[seen[f.Key]] = stringify(f.Value)
			}
			rows = append(rows, row)
		case []interface{}:
			row := make([]string, len(v))
			for i, e := range v {
				row[i] = stringify(e)
			}
			rows = append(rows, row)
		default:
			rows = append(rows, []string{stringify(v)})
		}
	}
	return &jsonSource{columns: columns, rows: rows}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func (s *jsonSource) header() []string { return s.columns }

func (s *jsonSource) next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *jsonSource) close() error { return nil }
