package source

import (
	"context"

	"go-export-service/internal/model"
)

// RowSource provides the dataset behind an export. The job controller
// treats it as opaque: it only validates parameters, reads the column
// headers, and drains the iterator batch by batch.
type RowSource interface {
	// Validate vets caller-supplied filter parameters. Anything that
	// fails here never reaches a query.
	Validate(params map[string]string) error

	// Columns returns the ordered header names every export includes.
	Columns() []string

	// Open starts one filtered, ordered read over the dataset. The
	// caller owns the iterator and must close it.
	Open(ctx context.Context, params map[string]string) (RowIterator, error)
}

// RowIterator streams rows in caller-sized batches. NextBatch returns
// an empty slice once the result set is drained.
type RowIterator interface {
	NextBatch(ctx context.Context, size int) ([]model.Row, error)
	Close() error
}
