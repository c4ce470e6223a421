package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-export-service/internal/config"
	"go-export-service/internal/model"
	"go-export-service/internal/notify"
	"go-export-service/internal/source"
	"go-export-service/internal/store"
	"go-export-service/internal/worker"
	"go-export-service/pkg/utils"
)

// maxDetailLen caps stored error diagnostics.
const maxDetailLen = 512

// Controller owns the lifecycle of export jobs: submission, the
// asynchronous run from pending to a terminal state, cancellation, and
// the single completion notification per job.
type Controller struct {
	source    source.RowSource
	notifier  notify.Notifier
	artifacts *utils.ArtifactManager
	pool      *worker.Pool
	validate  *validator.Validate

	batchSize  int
	jobTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewController wires the export pipeline together.
func NewController(cfg *config.Export, src source.RowSource, notifier notify.Notifier, artifacts *utils.ArtifactManager, pool *worker.Pool) *Controller {
	batchSize := 500
	var jobTimeout time.Duration
	if cfg != nil {
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		jobTimeout = cfg.JobTimeout
	}

	return &Controller{
		source:     src,
		notifier:   notifier,
		artifacts:  artifacts,
		pool:       pool,
		validate:   validator.New(),
		batchSize:  batchSize,
		jobTimeout: jobTimeout,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// ------------------- Submission -------------------

// Submit creates a new export job and queues its asynchronous run. It
// returns as soon as the job record exists; it never waits for rows.
//
// A structurally broken request (no requester, unknown format) yields
// an error and no job. Filter parameters the row source rejects yield a
// job that is created and immediately failed with the validation error,
// so the rejection is auditable; the job is returned alongside the
// error.
func (c *Controller) Submit(req *model.CreateExportRequest) (*model.ExportJob, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	job, err := store.CreateJob(uuid.New().String(), req.RequesterID, req.FilterParams, req.Format)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := c.source.Validate(req.FilterParams); err != nil {
		vErr := fmt.Errorf("%w: %v", ErrInvalidParams, err)
		c.failJob(job, vErr)
		return job, vErr
	}

	if err := c.pool.Submit(func(ctx context.Context) { c.runJob(ctx, job) }); err != nil {
		c.failJob(job, fmt.Errorf("submission rejected: %w", err))
		return job, err
	}

	logrus.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"requester_id": job.RequesterID,
		"format":       job.Format,
	}).Info("export job submitted")
	return job, nil
}

// ------------------- Cancellation -------------------

// Cancel requests cooperative cancellation of a job. A pending job is
// failed on the spot; a processing job has its run context cancelled
// and stops between batches. Returns false when the job is already
// terminal.
func (c *Controller) Cancel(jobID string) (bool, error) {
	job, err := store.GetJob(jobID)
	if err != nil {
		return false, err
	}
	if job.State.Terminal() {
		return false, nil
	}

	if err := store.AppendJobEvent(jobID, "cancel_requested", ""); err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Warn("failed to record cancel request")
	}

	if job.State == model.StatePending {
		err := store.TransitionJob(jobID, model.StateFailed, ErrCancelled.Error())
		if err == nil {
			c.sendNotification(job, model.StateFailed, ErrCancelled.Error())
			return true, nil
		}
		if !errors.Is(err, store.ErrStateConflict) {
			return false, err
		}
		// A worker claimed the job while we looked; cancel the live run.
	}

	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if !ok {
		// The run ended between the state read and now.
		return false, nil
	}
	cancel()
	return true, nil
}

func (c *Controller) registerCancel(jobID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[jobID] = cancel
}

func (c *Controller) unregisterCancel(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, jobID)
}

// ------------------- Job Run -------------------

// runJob executes one export from claim to terminal state. It is the
// only writer of the job's state while processing; the claim transition
// guarantees that even when a duplicate run is queued.
func (c *Controller) runJob(poolCtx context.Context, job *model.ExportJob) {
	log := logrus.WithFields(logrus.Fields{"job_id": job.ID, "format": job.Format})

	var jobCtx context.Context
	var cancel context.CancelFunc
	if c.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(poolCtx, c.jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(poolCtx)
	}
	defer cancel()

	c.registerCancel(job.ID, cancel)
	defer c.unregisterCancel(job.ID)

	if err := store.TransitionJob(job.ID, model.StateProcessing, ""); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			log.Info("job no longer pending, skipping run")
			return
		}
		log.WithError(err).Error("failed to claim job")
		return
	}
	log.Info("export started")

	start := time.Now()
	total, finalPath, err := c.produceArtifact(jobCtx, job, log)
	if err != nil {
		log.WithError(err).Warn("export failed")
		c.failJob(job, err)
		return
	}

	if err := store.SetJobArtifact(job.ID, finalPath); err != nil {
		c.artifacts.Discard(finalPath)
		log.WithError(err).Error("failed to record artifact")
		c.failJob(job, fmt.Errorf("store failure: %w", err))
		return
	}
	if err := store.TransitionJob(job.ID, model.StateFinished, ""); err != nil {
		log.WithError(err).Error("failed to finish job")
		return
	}

	if size, sizeErr := c.artifacts.GetFileSize(finalPath); sizeErr == nil {
		log.WithFields(logrus.Fields{
			"rows":     total,
			"size":     utils.FormatBytes(size),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Info("export finished")
	} else {
		log.WithField("rows", total).Info("export finished")
	}

	c.sendNotification(job, model.StateFinished, fmt.Sprintf("export complete: %d rows", total))
}

// produceArtifact streams the filtered rows into a temp artifact and
// finalizes it. The temp file is discarded on every exit path; once
// finalized the discard is a no-op.
func (c *Controller) produceArtifact(ctx context.Context, job *model.ExportJob, log *logrus.Entry) (int64, string, error) {
	it, err := c.source.Open(ctx, job.FilterParams)
	if err != nil {
		return 0, "", fmt.Errorf("source failure: %w", err)
	}
	defer it.Close()

	first, err := it.NextBatch(ctx, c.batchSize)
	if err != nil {
		return 0, "", fmt.Errorf("source failure: %w", err)
	}
	if len(first) == 0 {
		return 0, "", ErrNoData
	}

	ext := job.Format.Ext()
	tempPath := c.artifacts.TempFilePath(job.ID, ext)
	w, err := NewWriter(job.Format, tempPath)
	if err != nil {
		return 0, "", fmt.Errorf("writer failure: %w", err)
	}
	defer c.artifacts.Discard(tempPath)

	total, err := c.writeBatches(ctx, job, it, w, first, log)
	closeErr := w.Close()
	if err != nil {
		return 0, "", err
	}
	if closeErr != nil {
		return 0, "", fmt.Errorf("writer failure: %w", closeErr)
	}

	finalPath, err := c.artifacts.Finalize(tempPath, job.ID, "export"+ext)
	if err != nil {
		return 0, "", fmt.Errorf("writer failure: %w", err)
	}
	return total, finalPath, nil
}

// writeBatches drains the iterator batch by batch. Each batch is fully
// written before the next fetch, so the writer applies backpressure to
// the source, and cancellation is only honored on batch boundaries to
// keep the artifact internally consistent.
func (c *Controller) writeBatches(ctx context.Context, job *model.ExportJob, it source.RowIterator, w Writer, first []model.Row, log *logrus.Entry) (int64, error) {
	if err := w.WriteHeader(c.source.Columns()); err != nil {
		return 0, fmt.Errorf("writer failure: %w", err)
	}

	var total int64
	batch := first
	for len(batch) > 0 {
		for _, row := range batch {
			if err := w.WriteRow(c.encodeRow(row, job.Format)); err != nil {
				return total, fmt.Errorf("writer failure: %w", err)
			}
			total++
		}

		if err := store.UpdateJobProgress(job.ID, total); err != nil {
			log.WithError(err).Warn("failed to record progress")
		}

		if err := ctx.Err(); err != nil {
			return total, err
		}

		var err error
		batch, err = it.NextBatch(ctx, c.batchSize)
		if err != nil {
			return total, fmt.Errorf("source failure: %w", err)
		}
	}
	return total, nil
}

func (c *Controller) encodeRow(row model.Row, format model.Format) []string {
	values := make([]string, len(row))
	for i, cell := range row {
		values[i] = EncodeCell(cell, format)
	}
	return values
}

// ------------------- Terminal Handling -------------------

// failJob moves a job into failed and sends the one notification. When
// the compare-and-set loses (someone else already terminalized the
// job), no notification is sent here; the winner owns it.
func (c *Controller) failJob(job *model.ExportJob, cause error) {
	detail := failureDetail(cause)
	if err := store.TransitionJob(job.ID, model.StateFailed, detail); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			logrus.WithField("job_id", job.ID).Debug("job already terminal, failure not recorded")
			return
		}
		logrus.WithError(err).WithField("job_id", job.ID).Error("failed to record job failure")
		return
	}
	c.sendNotification(job, model.StateFailed, detail)
}

// sendNotification delivers the terminal event, best effort. Delivery
// problems are logged and never alter the job's state.
func (c *Controller) sendNotification(job *model.ExportJob, status model.JobState, message string) {
	rows := job.RowsProcessed
	if current, err := store.GetJob(job.ID); err == nil {
		rows = current.RowsProcessed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev := notify.Event{
		JobID:         job.ID,
		RequesterID:   job.RequesterID,
		Status:        status,
		Message:       message,
		RowsProcessed: rows,
		OccurredAt:    time.Now().UTC(),
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		logrus.WithError(err).WithField("job_id", job.ID).Warn("notification delivery failed")
	}
}

// failureDetail renders the stored diagnostic for a failure cause. Raw
// row data never appears here, only the error's category and message.
func failureDetail(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return ErrNoData.Error()
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrCancelled.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "export timed out"
	default:
		return utils.Truncate(err.Error(), maxDetailLen)
	}
}
