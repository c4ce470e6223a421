package export

import "errors"

// ------------------- Sentinel Errors -------------------

var (
	// ErrNoData marks an export whose filters matched zero rows. An empty
	// artifact would mislead the requester, so the job fails instead.
	ErrNoData = errors.New("no matching data")

	// ErrInvalidParams marks a submission rejected by validation before
	// any row was read.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrCancelled marks a job stopped on request between batches.
	ErrCancelled = errors.New("export cancelled")
)
