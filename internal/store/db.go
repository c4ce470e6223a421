package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-export-service/internal/model"
)

var db *sql.DB

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("export job not found")

	// ErrStateConflict is returned when a transition or guarded update
	// loses the compare-and-set race, e.g. a second worker trying to
	// claim a job that is already processing.
	ErrStateConflict = errors.New("job state conflict")
)

// InitDB opens the job database and creates the schema. The busy
// timeout keeps concurrent job goroutines from failing fast on the
// writer lock.
func InitDB(dbPath string) error {
	var err error
	db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath))
	if err != nil {
		return err
	}

	jobTable := `
	CREATE TABLE IF NOT EXISTS export_jobs (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		filter_params TEXT NOT NULL DEFAULT '{}',
		format TEXT NOT NULL,
		state TEXT NOT NULL,
		error_detail TEXT NOT NULL DEFAULT '',
		rows_processed INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	`
	eventTable := `
	CREATE TABLE IF NOT EXISTS export_job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	requesterIndex := `
	CREATE INDEX IF NOT EXISTS idx_export_jobs_requester
	ON export_jobs (requester_id, created_at);
	`

	if _, err := db.Exec(jobTable); err != nil {
		return err
	}
	if _, err := db.Exec(eventTable); err != nil {
		return err
	}
	if _, err := db.Exec(requesterIndex); err != nil {
		return err
	}

	return nil
}

// CloseDB releases the database handle.
func CloseDB() error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// ------------------- Jobs -------------------

// CreateJob inserts a new export job in the pending state and returns
// it. The record and its "created" event commit together, so no job row
// ever exists without the start of its audit trail.
func CreateJob(id, requesterID string, params map[string]string, format model.Format) (*model.ExportJob, error) {
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode filter params: %w", err)
	}

	now := time.Now().UTC()
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO export_jobs (id, requester_id, filter_params, format, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, requesterID, paramsJSON, format, model.StatePending, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := appendJobEvent(tx, id, "created", ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return &model.ExportJob{
		ID:           id,
		RequesterID:  requesterID,
		FilterParams: params,
		Format:       format,
		State:        model.StatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetJob fetches one job by id.
func GetJob(jobID string) (*model.ExportJob, error) {
	row := db.QueryRow(`SELECT id, requester_id, filter_params, format, state, error_detail,
		rows_processed, file_path, created_at, updated_at, completed_at
		FROM export_jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns jobs newest first, optionally limited to one requester.
func ListJobs(requesterID string) ([]*model.ExportJob, error) {
	query := `SELECT id, requester_id, filter_params, format, state, error_detail,
		rows_processed, file_path, created_at, updated_at, completed_at
		FROM export_jobs`
	args := []any{}
	if requesterID != "" {
		query += ` WHERE requester_id = ?`
		args = append(args, requesterID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TransitionJob moves a job forward through its lifecycle. The update is
// a single compare-and-set statement, so of two racing callers exactly
// one wins and the loser gets ErrStateConflict. Terminal transitions set
// completed_at exactly once. The state change and its audit event commit
// together.
func TransitionJob(jobID string, next model.JobState, detail string) error {
	now := time.Now().UTC()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	defer tx.Rollback()

	var res sql.Result
	switch next {
	case model.StateProcessing:
		res, err = tx.Exec(`UPDATE export_jobs SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			next, now, jobID, model.StatePending)
	case model.StateFinished:
		res, err = tx.Exec(`UPDATE export_jobs SET state = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND state IN (?, ?)`,
			next, now, now, jobID, model.StatePending, model.StateProcessing)
	case model.StateFailed:
		res, err = tx.Exec(`UPDATE export_jobs SET state = ?, error_detail = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND state IN (?, ?)`,
			next, detail, now, now, jobID, model.StatePending, model.StateProcessing)
	default:
		return fmt.Errorf("%w: no transition into state %q", ErrStateConflict, next)
	}
	if err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var state model.JobState
		err := tx.QueryRow(`SELECT state FROM export_jobs WHERE id = ?`, jobID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrStateConflict, state, next)
	}

	if err := appendJobEvent(tx, jobID, string(next), detail); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateJobProgress records rows processed so far. Only a processing job
// accepts progress, so late writes from an already-terminated job are
// rejected instead of mutating a terminal record.
func UpdateJobProgress(jobID string, rowsProcessed int64) error {
	now := time.Now().UTC()
	res, err := db.Exec(`UPDATE export_jobs SET rows_processed = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		rowsProcessed, now, jobID, model.StateProcessing)
	if err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return requireAffected(res, jobID)
}

// SetJobArtifact records the finalized artifact path while the job is
// still processing.
func SetJobArtifact(jobID, filePath string) error {
	now := time.Now().UTC()
	res, err := db.Exec(`UPDATE export_jobs SET file_path = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		filePath, now, jobID, model.StateProcessing)
	if err != nil {
		return fmt.Errorf("set artifact for job %s: %w", jobID, err)
	}
	return requireAffected(res, jobID)
}

// FailInterruptedJobs marks every non-terminal job as failed. Called on
// startup: the in-memory queue did not survive the previous process, so
// leftover pending or processing jobs can never complete. Each job goes
// through the normal transition so its audit trail records the failure.
func FailInterruptedJobs() (int64, error) {
	rows, err := db.Query(`SELECT id FROM export_jobs WHERE state IN (?, ?)`,
		model.StatePending, model.StateProcessing)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var swept int64
	for _, id := range ids {
		err := TransitionJob(id, model.StateFailed, "interrupted by service restart")
		if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrJobNotFound) {
			// Terminalized since the select; nothing left to sweep.
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// ------------------- Events -------------------

// AppendJobEvent adds one entry to a job's audit trail.
func AppendJobEvent(jobID, event, detail string) error {
	return appendJobEvent(db, jobID, event, detail)
}

func appendJobEvent(e execer, jobID, event, detail string) error {
	now := time.Now().UTC()
	_, err := e.Exec(`INSERT INTO export_job_events (job_id, event, detail, created_at)
		VALUES (?, ?, ?, ?)`,
		jobID, event, detail, now)
	if err != nil {
		return fmt.Errorf("append event for job %s: %w", jobID, err)
	}
	return nil
}

// ListJobEvents returns a job's audit trail in insertion order.
func ListJobEvents(jobID string) ([]*model.JobEvent, error) {
	rows, err := db.Query(`SELECT id, job_id, event, detail, created_at
		FROM export_job_events WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.JobEvent
	for rows.Next() {
		var ev model.JobEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Event, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ------------------- Helpers -------------------

type rowScanner interface {
	Scan(dest ...any) error
}

// execer lets event writes target either the shared handle or an open
// transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func scanJob(r rowScanner) (*model.ExportJob, error) {
	var job model.ExportJob
	var paramsJSON string
	var completedAt sql.NullTime

	err := r.Scan(&job.ID, &job.RequesterID, &paramsJSON, &job.Format, &job.State,
		&job.ErrorDetail, &job.RowsProcessed, &job.FilePath,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.FilterParams); err != nil {
		return nil, fmt.Errorf("decode filter params for job %s: %w", job.ID, err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func requireAffected(res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := GetJob(jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is not processing", ErrStateConflict, jobID)
	}
	return nil
}
