package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/bms-ingest/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job and batch management.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  batch_id,
  status,
  file_name,
  basename,
  payload,
  context,
  force_reprocess,
  result,
  record_id,
  error,
  retry_count,
  next_retry_at,
  payload_stripped,
  started_at,
  completed_at,
  created_at,
  updated_at
`

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, context, result            []byte
	batchID, recordID, lastError        sql.NullString
	nextRetryAt, startedAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner rowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&d.batchID,
		&job.Status,
		&job.FileName,
		&job.Basename,
		&d.payload,
		&d.context,
		&job.Force,
		&d.result,
		&d.recordID,
		&d.lastError,
		&job.RetryCount,
		&d.nextRetryAt,
		&job.PayloadStripped,
		&d.startedAt,
		&d.completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.BatchID = cloneNullableString(d.batchID)
	job.Payload = cloneJSON(d.payload)
	job.Context = cloneJSON(d.context)
	job.Result = cloneJSON(d.result)
	job.RecordID = cloneNullableString(d.recordID)
	job.Error = cloneNullableString(d.lastError)
	job.NextRetryAt = cloneNullableTime(d.nextRetryAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanJobFromRow(scanner rowScanner) (*model.Job, error) {
	var job model.Job
	var data jobRowData
	if err := data.scanInto(scanner, &job); err != nil {
		return nil, err
	}
	data.apply(&job)
	return &job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}

// nullableJSON turns an empty document into SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
