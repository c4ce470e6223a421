package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// sheetName is the single worksheet every spreadsheet export writes to.
const sheetName = "Export"

// xlsxWriter streams rows through excelize's stream writer, which keeps
// memory flat by spilling finished rows to disk as it goes. The workbook
// is only materialized at path on Close.
type xlsxWriter struct {
	path string
	book *excelize.File
	sw   *excelize.StreamWriter
	row  int
}

func newXLSXWriter(path string) (*xlsxWriter, error) {
	book := excelize.NewFile()
	if err := book.SetSheetName("Sheet1", sheetName); err != nil {
		book.Close()
		return nil, fmt.Errorf("name export sheet: %w", err)
	}
	sw, err := book.NewStreamWriter(sheetName)
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("open stream writer: %w", err)
	}
	return &xlsxWriter{path: path, book: book, sw: sw, row: 1}, nil
}

func (x *xlsxWriter) WriteHeader(columns []string) error {
	return x.WriteRow(columns)
}

func (x *xlsxWriter) WriteRow(values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return fmt.Errorf("address row %d: %w", x.row, err)
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := x.sw.SetRow(cell, cells); err != nil {
		return fmt.Errorf("stream row %d: %w", x.row, err)
	}
	x.row++
	return nil
}

func (x *xlsxWriter) Close() error {
	defer x.book.Close()
	if err := x.sw.Flush(); err != nil {
		return fmt.Errorf("flush spreadsheet: %w", err)
	}
	if err := x.book.SaveAs(x.path); err != nil {
		return fmt.Errorf("save spreadsheet: %w", err)
	}
	return nil
}
