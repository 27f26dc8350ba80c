// Package model defines the core data types shared across the bms-ingest pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting for a worker.
	JobStatusQueued JobStatus = "Queued"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "Processing"
	// JobStatusCompleted indicates the analysis result was persisted.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently.
	JobStatusFailed JobStatus = "failed"
)

// MaxRetryCount bounds how many times a transiently failing job is requeued.
const MaxRetryCount = 5

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotClaimable is returned when a job cannot move from Queued to Processing.
	ErrJobNotClaimable = errors.New("job is not queued")
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for query and env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := strings.TrimSpace(string(text))
	for _, candidate := range []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if strings.EqualFold(v, string(candidate)) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("invalid JobStatus: %q", v)
}

// ImagePayload is the input of a single analysis job.
type ImagePayload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	// Data holds base64-encoded image bytes. Empty after the cleanup pass strips it.
	Data string `json:"data,omitempty"`
}

// Job is one unit of analysis work tied to a single input item.
type Job struct {
	ID              string          `json:"id"                    db:"id"`
	BatchID         *string         `json:"batchId,omitempty"     db:"batch_id"`
	Status          JobStatus       `json:"status"                db:"status"`
	FileName        string          `json:"fileName"              db:"file_name"`
	Basename        string          `json:"basename"              db:"basename"`
	Payload         json.RawMessage `json:"payload,omitempty"     db:"payload"`
	Context         json.RawMessage `json:"context,omitempty"     db:"context"`
	Force           bool            `json:"force"                 db:"force_reprocess"`
	Result          json.RawMessage `json:"result,omitempty"      db:"result"`
	RecordID        *string         `json:"recordId,omitempty"    db:"record_id"`
	Error           *string         `json:"error,omitempty"       db:"error"`
	RetryCount      int             `json:"retryCount"            db:"retry_count"`
	NextRetryAt     *time.Time      `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	PayloadStripped bool            `json:"payloadStripped"       db:"payload_stripped"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"   db:"started_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt       time.Time       `json:"createdAt"             db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt"             db:"updated_at"`
}

// InBatch reports whether the job belongs to a batch.
func (j *Job) InBatch() bool {
	return j != nil && j.BatchID != nil && *j.BatchID != ""
}

// WithoutPayload returns a shallow copy of the job with the image payload
// dropped. Read paths return this form; only workers need the image.
func (j *Job) WithoutPayload() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Payload = nil
	return &out
}

// DecodePayload unmarshals the image payload.
func (j *Job) DecodePayload() (ImagePayload, error) {
	var p ImagePayload
	if len(j.Payload) == 0 {
		return p, errors.New("job payload is empty")
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	return p, nil
}

// JobRef identifies a job and its batch; returned by bulk state transitions.
type JobRef struct {
	ID      string    `json:"id"`
	BatchID *string   `json:"batchId,omitempty"`
	Status  JobStatus `json:"status"`
}

// JobStatusCounts summarizes the jobs of a batch by status.
type JobStatusCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of jobs counted.
func (c JobStatusCounts) Total() int {
	return c.Queued + c.Processing + c.Completed + c.Failed
}

// Add increments the counter for status by n.
func (c *JobStatusCounts) Add(status JobStatus, n int) {
	switch status {
	case JobStatusQueued:
		c.Queued += n
	case JobStatusProcessing:
		c.Processing += n
	case JobStatusCompleted:
		c.Completed += n
	case JobStatusFailed:
		c.Failed += n
	}
}

// TaskMessage is the unit passed through the task queue.
type TaskMessage struct {
	JobID      string    `json:"jobId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
