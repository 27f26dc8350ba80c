//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"time"
)

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	// BatchStatusProcessing indicates at least one job has not reached a terminal state.
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusCompleted indicates every job is completed or failed.
	BatchStatusCompleted BatchStatus = "completed"
)

var (
	// ErrBatchNotFound is returned when a batch id does not exist.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchJobNotFound is returned when a job is not listed in its batch.
	ErrBatchJobNotFound = errors.New("job not found in batch")
	// ErrBatchCountsExceeded guards completedJobs+failedJobs <= totalJobs.
	ErrBatchCountsExceeded = errors.New("batch counters exceed total jobs")
)

// BatchJobEntry is the per-job summary held inside a batch.
type BatchJobEntry struct {
	JobID    string    `json:"jobId"`
	FileName string    `json:"fileName"`
	Status   JobStatus `json:"status"`
}

// Batch aggregates the status of jobs submitted together.
type Batch struct {
	ID            string          `json:"id"                    db:"id"`
	Status        BatchStatus     `json:"status"                db:"status"`
	TotalJobs     int             `json:"totalJobs"             db:"total_jobs"`
	CompletedJobs int             `json:"completedJobs"         db:"completed_jobs"`
	FailedJobs    int             `json:"failedJobs"            db:"failed_jobs"`
	Jobs          []BatchJobEntry `json:"jobs"                  db:"jobs"`
	CreatedAt     time.Time       `json:"createdAt"             db:"created_at"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// NewBatch builds a processing batch for the given queued jobs.
func NewBatch(id string, jobs []*Job, now time.Time) *Batch {
	entries := make([]BatchJobEntry, 0, len(jobs))
	for _, j := range jobs {
		entries = append(entries, BatchJobEntry{JobID: j.ID, FileName: j.FileName, Status: j.Status})
	}
	return &Batch{
		ID:        id,
		Status:    BatchStatusProcessing,
		TotalJobs: len(entries),
		Jobs:      entries,
		CreatedAt: now,
	}
}

// Clone returns a deep copy so read-modify-write cycles never alias stored state.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Jobs = append([]BatchJobEntry(nil), b.Jobs...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Settled returns completedJobs+failedJobs.
func (b *Batch) Settled() int {
	return b.CompletedJobs + b.FailedJobs
}

// ApplyJobResult records a terminal status for jobID. It reports false when
// the entry was already terminal, so repeated notifications never double count.
func (b *Batch) ApplyJobResult(jobID string, status JobStatus, now time.Time) (bool, error) {
	if !status.Terminal() {
		return false, nil
	}
	idx := -1
	for i := range b.Jobs {
		if b.Jobs[i].JobID == jobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrBatchJobNotFound
	}
	if b.Jobs[idx].Status.Terminal() {
		return false, nil
	}
	if b.Settled() >= b.TotalJobs {
		return false, ErrBatchCountsExceeded
	}

	b.Jobs[idx].Status = status
	if status == JobStatusCompleted {
		b.CompletedJobs++
	} else {
		b.FailedJobs++
	}
	b.refreshStatus(now)
	return true, nil
}

// ApplyCounts overwrites counters and entry statuses from authoritative job rows.
func (b *Batch) ApplyCounts(statuses map[string]JobStatus, now time.Time) {
	completed, failed := 0, 0
	for i := range b.Jobs {
		if s, ok := statuses[b.Jobs[i].JobID]; ok {
			b.Jobs[i].Status = s
		}
		switch b.Jobs[i].Status {
		case JobStatusCompleted:
			completed++
		case JobStatusFailed:
			failed++
		}
	}
	b.CompletedJobs = completed
	b.FailedJobs = failed
	b.refreshStatus(now)
}

func (b *Batch) refreshStatus(now time.Time) {
	if b.Settled() == b.TotalJobs {
		b.Status = BatchStatusCompleted
		if b.CompletedAt == nil {
			t := now.UTC()
			b.CompletedAt = &t
		}
		return
	}
	b.Status = BatchStatusProcessing
	b.CompletedAt = nil
}

// VersionedBatch pairs a batch with the optimistic-concurrency token it was read at.
type VersionedBatch struct {
	Batch   *Batch
	Version int64
}
