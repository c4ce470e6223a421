package model

import "time"

// ------------------- Job States -------------------

// JobState is the lifecycle state of an export job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateFinished   JobState = "finished"
	StateFailed     JobState = "failed"
)

// stateOrder positions each state on the forward-only lifecycle axis.
var stateOrder = map[JobState]int{
	StatePending:    0,
	StateProcessing: 1,
	StateFinished:   2,
	StateFailed:     2,
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// CanTransition reports whether a job may move from s to next.
// Transitions only ever move forward; terminal states absorb.
func (s JobState) CanTransition(next JobState) bool {
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	to, ok := stateOrder[next]
	if !ok {
		return false
	}
	return !s.Terminal() && to > from
}

// ------------------- Formats -------------------

// Format identifies the artifact encoding of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Valid reports whether f is a supported export format.
func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatXLSX
}

// Ext returns the artifact file extension for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatXLSX:
		return ".xlsx"
	default:
		return ".csv"
	}
}

// ------------------- Export Job -------------------

// ExportJob is a single export request tracked from submission to its
// terminal state. FilePath is only set once the artifact is finalized.
// DownloadURL is derived by the API layer and never persisted.
type ExportJob struct {
	ID            string            `json:"id"`
	RequesterID   string            `json:"requester_id"`
	FilterParams  map[string]string `json:"filter_params,omitempty"`
	Format        Format            `json:"format"`
	State         JobState          `json:"state"`
	ErrorDetail   string            `json:"error_detail,omitempty"`
	RowsProcessed int64             `json:"rows_processed"`
	FilePath      string            `json:"-"`
	DownloadURL   string            `json:"download_url,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// Succeeded reports whether the job reached its finished state.
func (j *ExportJob) Succeeded() bool {
	return j.State == StateFinished
}

// JobEvent is one entry in a job's audit trail. State changes and
// cancellation requests append events.
type JobEvent struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
