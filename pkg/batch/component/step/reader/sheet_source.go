package reader

import (
	"errors"
	"io"

	"github.com/xuri/excelize/v2"
)

// sheetSource streams the first worksheet of a workbook; its first row is the header.
type sheetSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	columns []string
}

func newSheetSource(path string) (*sheetSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &sheetSource{file: f, rows: rows}
	if rows.Next() {
		header, err := rows.Columns()
		if err != nil {
			s.close()
			return nil, err
		}
		s.columns = header
	}
	return s, nil
}

func (s *sheetSource) header() []string { return s.columns }

func (s *sheetSource) next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *sheetSource) close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
