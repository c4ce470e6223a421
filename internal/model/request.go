package model

import "time"

// CreateExportRequest is the submission payload for a new export job.
type CreateExportRequest struct {
	RequesterID  string            `json:"requester_id" validate:"required,max=128"`
	Format       Format            `json:"format" validate:"required,oneof=csv xlsx"`
	FilterParams map[string]string `json:"filter_params" validate:"omitempty,max=16"`
}

// CreateExportResponse acknowledges an accepted submission.
type CreateExportResponse struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// ErrorResponse is the envelope for all API errors. JobID is set when a
// job record exists for the failed request, e.g. rejected filter params.
type ErrorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}
