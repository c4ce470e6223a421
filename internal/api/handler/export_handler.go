package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go-export-service/internal/export"
	"go-export-service/internal/model"
	"go-export-service/internal/store"
	"go-export-service/internal/worker"
	"go-export-service/pkg/utils"
)

const exportsPrefix = "/api/v1/exports/"

// ExportHandler exposes the export job API.
type ExportHandler struct {
	ctrl      *export.Controller
	artifacts *utils.ArtifactManager
}

func NewExportHandler(ctrl *export.Controller, artifacts *utils.ArtifactManager) *ExportHandler {
	return &ExportHandler{ctrl: ctrl, artifacts: artifacts}
}

// ------------------- Submission -------------------

// CreateExport godoc
// @Summary Submit a new export job
// @Description Creates an export job and queues it for background processing. Invalid filter parameters fail the job immediately.
// @Tags exports
// @Accept json
// @Produce json
// @Param request body model.CreateExportRequest true "Export request"
// @Success 202 {object} model.CreateExportResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 422 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /exports [post]
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req model.CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.ctrl.Submit(&req)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrInvalidParams) && job == nil:
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, export.ErrInvalidParams):
			writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{Error: err.Error(), JobID: job.ID})
		case errors.Is(err, worker.ErrQueueFull):
			writeJSON(w, http.StatusServiceUnavailable, model.ErrorResponse{Error: "export queue is full, retry later", JobID: job.ID})
		default:
			writeError(w, http.StatusInternalServerError, "failed to create export job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, model.CreateExportResponse{
		JobID:     job.ID,
		State:     job.State,
		CreatedAt: job.CreatedAt,
	})
}

// ------------------- Queries -------------------

// ListExports godoc
// @Summary List export jobs
// @Description Lists export jobs, optionally filtered by requester.
// @Tags exports
// @Produce json
// @Param requester_id query string false "Filter by requester"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} model.ErrorResponse
// @Router /exports [get]
func (h *ExportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := store.ListJobs(r.URL.Query().Get("requester_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list export jobs")
		return
	}
	for _, job := range jobs {
		h.decorate(job)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetExport godoc
// @Summary Get an export job
// @Description Returns the current state of a single export job.
// @Tags exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} model.ExportJob
// @Failure 404 {object} model.ErrorResponse
// @Router /exports/{id} [get]
func (h *ExportHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r.URL.Path, "")
	if !ok {
		writeError(w, http.StatusNotFound, "export job not found")
		return
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.decorate(job))
}

// GetExportEvents godoc
// @Summary Get export job events
// @Description Returns the audit trail of state changes for a job.
// @Tags exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} model.ErrorResponse
// @Router /exports/{id}/events [get]
func (h *ExportHandler) GetExportEvents(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r.URL.Path, "/events")
	if !ok {
		writeError(w, http.StatusNotFound, "export job not found")
		return
	}

	if _, err := store.GetJob(jobID); err != nil {
		writeJobError(w, err)
		return
	}

	events, err := store.ListJobEvents(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list job events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"events": events,
		"count":  len(events),
	})
}

// ------------------- Artifact download -------------------

// DownloadExport godoc
// @Summary Download an export artifact
// @Description Streams the finished export file. Only available once the job has finished.
// @Tags exports
// @Produce octet-stream
// @Param id path string true "Job ID"
// @Success 200 {file} binary
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /exports/{id}/download [get]
func (h *ExportHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r.URL.Path, "/download")
	if !ok {
		writeError(w, http.StatusNotFound, "export job not found")
		return
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if !job.Succeeded() {
		writeError(w, http.StatusConflict, fmt.Sprintf("export is not ready for download (state: %s)", job.State))
		return
	}
	if _, err := h.artifacts.GetFileSize(job.FilePath); err != nil {
		writeError(w, http.StatusNotFound, "export artifact not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "export_"+job.ID+job.Format.Ext()))
	w.Header().Set("Content-Type", contentTypeFor(job.Format))
	http.ServeFile(w, r, job.FilePath)
}

// ------------------- Cancellation -------------------

// CancelExport godoc
// @Summary Cancel an export job
// @Description Requests cooperative cancellation. A pending job fails immediately; a processing job stops between batches.
// @Tags exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} model.CancelResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /exports/{id}/cancel [post]
func (h *ExportHandler) CancelExport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r.URL.Path, "/cancel")
	if !ok {
		writeError(w, http.StatusNotFound, "export job not found")
		return
	}

	cancelled, err := h.ctrl.Cancel(jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "export job already completed")
		return
	}

	writeJSON(w, http.StatusAccepted, model.CancelResponse{JobID: jobID, Cancelled: true})
}

// ------------------- Helpers -------------------

// decorate fills the client-facing download URL on finished jobs.
func (h *ExportHandler) decorate(job *model.ExportJob) *model.ExportJob {
	if job.Succeeded() && job.FilePath != "" {
		job.DownloadURL = h.artifacts.DownloadURL(job.ID)
	}
	return job
}

// jobIDFromPath extracts the job ID between the collection prefix and an
// optional suffix. Returns false for empty or nested IDs.
func jobIDFromPath(path, suffix string) (string, bool) {
	if !strings.HasPrefix(path, exportsPrefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	if len(path) < len(exportsPrefix)+len(suffix)+1 {
		// Prefix and suffix overlap, e.g. /api/v1/exports/events.
		return "", false
	}
	jobID := path[len(exportsPrefix) : len(path)-len(suffix)]
	if jobID == "" || strings.Contains(jobID, "/") {
		return "", false
	}
	return jobID, true
}

func contentTypeFor(format model.Format) string {
	if format == model.FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "export job not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
