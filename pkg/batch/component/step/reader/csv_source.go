package reader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
)

const utf8BOM = "\ufeff"

// csvSource streams a delimited file; the first record is the header.
type csvSource struct {
	file    *os.File
	r       *csv.Reader
	columns []string
}

func newCSVSource(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &csvSource{file: f, r: r}, nil
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	return &csvSource{file: f, r: r, columns: header}, nil
}

func (s *csvSource) header() []string { return s.columns }

func (s *csvSource) next() ([]string, error) {
	return s.r.Read()
}

func (s *csvSource) close() error {
	return s.file.Close()
}
