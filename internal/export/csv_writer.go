package export

import (
	"encoding/csv"
	"fmt"
	"os"
)

// utf8BOM is emitted before the header so spreadsheet tools opening the
// delimited file detect its encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvWriter struct {
	file *os.File
	w    *csv.Writer
}

func newCSVWriter(path string) (*csvWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv artifact: %w", err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write byte order mark: %w", err)
	}
	return &csvWriter{file: f, w: csv.NewWriter(f)}, nil
}

func (c *csvWriter) WriteHeader(columns []string) error {
	return c.WriteRow(columns)
}

func (c *csvWriter) WriteRow(values []string) error {
	if err := c.w.Write(values); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	return nil
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	flushErr := c.w.Error()
	closeErr := c.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush csv artifact: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close csv artifact: %w", closeErr)
	}
	return nil
}
