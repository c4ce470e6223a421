package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-export-service/internal/config"
	"go-export-service/internal/export"
	"go-export-service/internal/model"
	"go-export-service/internal/notify"
	"go-export-service/internal/source"
	"go-export-service/internal/store"
	"go-export-service/internal/worker"
	"go-export-service/pkg/utils"
)

// ------------------- Test doubles -------------------

type fakeSource struct {
	columns     []string
	rows        []model.Row
	validateErr error
}

func (f *fakeSource) Validate(map[string]string) error { return f.validateErr }
func (f *fakeSource) Columns() []string                { return f.columns }
func (f *fakeSource) Open(context.Context, map[string]string) (source.RowIterator, error) {
	return &fakeIterator{rows: f.rows}, nil
}

type fakeIterator struct {
	rows []model.Row
	pos  int
}

func (it *fakeIterator) NextBatch(_ context.Context, size int) ([]model.Row, error) {
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	end := it.pos + size
	if end > len(it.rows) {
		end = len(it.rows)
	}
	batch := it.rows[it.pos:end]
	it.pos = end
	return batch, nil
}

func (it *fakeIterator) Close() error { return nil }

// ------------------- Rig -------------------

func newTestHandler(t *testing.T, src source.RowSource) *ExportHandler {
	t.Helper()

	require.NoError(t, store.InitDB(filepath.Join(t.TempDir(), "jobs.db")))
	t.Cleanup(func() { _ = store.CloseDB() })

	artifacts := utils.NewArtifactManager(t.TempDir())
	require.NoError(t, artifacts.EnsureBaseDirs())

	pool := worker.NewPool(worker.DefaultConfig())
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})

	cfg := &config.Export{BatchSize: 2, OutputDir: artifacts.BaseOutputDir, JobTimeout: 5 * time.Second}
	ctrl := export.NewController(cfg, src, notify.LogNotifier{}, artifacts, pool)
	return NewExportHandler(ctrl, artifacts)
}

func postJSON(t *testing.T, h func(http.ResponseWriter, *http.Request), path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func get(t *testing.T, h func(http.ResponseWriter, *http.Request), path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func waitForState(t *testing.T, jobID string, want model.JobState) *model.ExportJob {
	t.Helper()
	var job *model.ExportJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(jobID)
		if err != nil {
			return false
		}
		job = j
		return j.State == want
	}, 3*time.Second, 10*time.Millisecond)
	return job
}

// ------------------- Submission -------------------

func TestCreateExportAcceptedAndDownloadable(t *testing.T) {
	src := &fakeSource{
		columns: []string{"id", "name"},
		rows:    []model.Row{{int64(7), "widget"}, {int64(8), nil}},
	}
	h := newTestHandler(t, src)

	rec := postJSON(t, h.CreateExport, "/api/v1/exports", `{"requester_id":"u-1","format":"csv"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created model.CreateExportResponse
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, model.StatePending, created.State)

	waitForState(t, created.JobID, model.StateFinished)

	rec = get(t, h.GetExport, "/api/v1/exports/"+created.JobID)
	require.Equal(t, http.StatusOK, rec.Code)
	var job model.ExportJob
	decodeBody(t, rec, &job)
	assert.Equal(t, int64(2), job.RowsProcessed)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "/api/v1/exports/"+created.JobID+"/download", job.DownloadURL)

	rec = get(t, h.DownloadExport, "/api/v1/exports/"+created.JobID+"/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="export_`+created.JobID+`.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	raw := rec.Body.Bytes()
	require.True(t, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))
	records, err := csv.NewReader(bytes.NewReader(raw[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "name"}, records[0])
	assert.Equal(t, []string{"8", "N/A"}, records[2])
}

func TestCreateExportMalformedBody(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	rec := postJSON(t, h.CreateExport, "/api/v1/exports", `{"requester_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp model.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid request body", resp.Error)
}

func TestCreateExportMissingRequester(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	rec := postJSON(t, h.CreateExport, "/api/v1/exports", `{"format":"csv"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp model.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "invalid parameters")
	assert.Empty(t, resp.JobID)

	jobs, err := store.ListJobs("")
	require.NoError(t, err)
	assert.Empty(t, jobs, "a structurally broken request must not create a job")
}

func TestCreateExportRejectedFilters(t *testing.T) {
	src := &fakeSource{columns: []string{"id"}, validateErr: errors.New(`unknown filter parameter "color"`)}
	h := newTestHandler(t, src)

	rec := postJSON(t, h.CreateExport, "/api/v1/exports",
		`{"requester_id":"u-1","format":"csv","filter_params":{"color":"red"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp model.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "invalid parameters")
	require.NotEmpty(t, resp.JobID)

	job, err := store.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, job.State)
	assert.Contains(t, job.ErrorDetail, "color")
}

// ------------------- Queries -------------------

func TestListExportsByRequester(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	for i, requester := range []string{"alice", "alice", "bob"} {
		_, err := store.CreateJob(fmt.Sprintf("job-%d", i), requester, nil, model.FormatCSV)
		require.NoError(t, err)
	}

	rec := get(t, h.ListExports, "/api/v1/exports?requester_id=alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs  []*model.ExportJob `json:"jobs"`
		Count int                `json:"count"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	for _, j := range resp.Jobs {
		assert.Equal(t, "alice", j.RequesterID)
	}

	rec = get(t, h.ListExports, "/api/v1/exports")
	decodeBody(t, rec, &resp)
	assert.Equal(t, 3, resp.Count)
}

func TestGetExportNotFound(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	rec := get(t, h.GetExport, "/api/v1/exports/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExportEvents(t *testing.T) {
	src := &fakeSource{columns: []string{"id"}, rows: []model.Row{{int64(1)}}}
	h := newTestHandler(t, src)

	rec := postJSON(t, h.CreateExport, "/api/v1/exports", `{"requester_id":"u-1","format":"csv"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created model.CreateExportResponse
	decodeBody(t, rec, &created)
	waitForState(t, created.JobID, model.StateFinished)

	rec = get(t, h.GetExportEvents, "/api/v1/exports/"+created.JobID+"/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID  string            `json:"job_id"`
		Events []*model.JobEvent `json:"events"`
		Count  int               `json:"count"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, created.JobID, resp.JobID)
	require.GreaterOrEqual(t, resp.Count, 3)
	assert.Equal(t, "created", resp.Events[0].Event)

	rec = get(t, h.GetExportEvents, "/api/v1/exports/ghost/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ------------------- Download guards -------------------

func TestDownloadBeforeFinished(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	job, err := store.CreateJob("job-pending", "u-1", nil, model.FormatCSV)
	require.NoError(t, err)

	rec := get(t, h.DownloadExport, "/api/v1/exports/"+job.ID+"/download")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp model.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Error, "pending")
}

func TestDownloadUnknownJob(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	rec := get(t, h.DownloadExport, "/api/v1/exports/ghost/download")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ------------------- Cancellation -------------------

func TestCancelPendingThenRepeat(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	job, err := store.CreateJob("job-cancel", "u-1", nil, model.FormatCSV)
	require.NoError(t, err)

	rec := postJSON(t, h.CancelExport, "/api/v1/exports/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.CancelResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Cancelled)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Equal(t, "export cancelled", got.ErrorDetail)

	// A second cancel hits a terminal job.
	rec = postJSON(t, h.CancelExport, "/api/v1/exports/"+job.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newTestHandler(t, &fakeSource{columns: []string{"id"}})

	rec := postJSON(t, h.CancelExport, "/api/v1/exports/ghost/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ------------------- Path parsing -------------------

func TestJobIDFromPath(t *testing.T) {
	cases := []struct {
		path   string
		suffix string
		want   string
		ok     bool
	}{
		{"/api/v1/exports/abc", "", "abc", true},
		{"/api/v1/exports/abc/events", "/events", "abc", true},
		{"/api/v1/exports/abc/download", "/download", "abc", true},
		{"/api/v1/exports/", "", "", false},
		{"/api/v1/exports/a/b", "", "", false},
		{"/api/v1/other/abc", "", "", false},
		{"/api/v1/exports/abc", "/events", "", false},
		{"/api/v1/exports/events", "/events", "", false},
	}
	for _, tc := range cases {
		got, ok := jobIDFromPath(tc.path, tc.suffix)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}
