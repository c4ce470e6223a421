package export

import (
	"fmt"

	"go-export-service/internal/model"
)

// Writer persists encoded rows into one artifact file. Implementations
// must write incrementally so an export of hundreds of thousands of rows
// never holds the full result set in memory. Any error aborts the job;
// rows are never silently dropped.
type Writer interface {
	WriteHeader(columns []string) error
	WriteRow(values []string) error
	Close() error
}

// NewWriter opens an artifact writer of the given format at path.
func NewWriter(format model.Format, path string) (Writer, error) {
	switch format {
	case model.FormatCSV:
		return newCSVWriter(path)
	case model.FormatXLSX:
		return newXLSXWriter(path)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
