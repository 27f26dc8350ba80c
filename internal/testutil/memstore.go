package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

// MemStore is an in-memory implementation of the persistence ports with the
// same conditional-write semantics as the Postgres repositories. It backs
// service-level scenario tests that do not need a database.
type MemStore struct {
	mu       sync.Mutex
	now      func() time.Time
	jobs     map[string]*model.Job
	order    []string
	batches  map[string]*memBatch
	records  map[string]*model.AnalysisRecord
	feedback []*model.Feedback
	faults   map[string][]error
	calls    map[string]int
}

type memBatch struct {
	batch   *model.Batch
	version int64
}

// NewMemStore creates an empty store. A nil now uses time.Now.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		now:     now,
		jobs:    make(map[string]*model.Job),
		batches: make(map[string]*memBatch),
		records: make(map[string]*model.AnalysisRecord),
		faults:  make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
// Ops are named "<repo>.<method>", e.g. "jobs.claim" or "batches.update".
func (s *MemStore) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

// Calls returns how often op was invoked.
func (s *MemStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call and pops a pending fault. Callers hold s.mu.
func (s *MemStore) enter(op string) error {
	s.calls[op]++
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	s.faults[op] = q[1:]
	return err
}

// Jobs returns the JobRepository and ReaperRepository view.
func (s *MemStore) Jobs() *MemJobs { return &MemJobs{s: s} }

// Batches returns the BatchRepository view.
func (s *MemStore) Batches() *MemBatches { return &MemBatches{s: s} }

// Records returns the AnalysisRecordRepository view.
func (s *MemStore) Records() *MemRecords { return &MemRecords{s: s} }

// Feedback returns the FeedbackRepository view.
func (s *MemStore) Feedback() *MemFeedback { return &MemFeedback{s: s} }

// PutJob stores a copy of job as-is, bypassing transitions.
func (s *MemStore) PutJob(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
}

// PutRecord stores an analysis record.
func (s *MemStore) PutRecord(rec *model.AnalysisRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
}

// Job returns a copy of the stored job or nil.
func (s *MemStore) Job(id string) *model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJob(s.jobs[id])
}

// Batch returns a copy of the stored batch and its version, or nil.
func (s *MemStore) Batch(id string) (*model.Batch, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.batches[id]
	if !ok {
		return nil, 0
	}
	return mb.batch.Clone(), mb.version
}

// RecordCount returns the number of stored analysis records.
func (s *MemStore) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneJob(j *model.Job) *model.Job {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

func timePtr(t time.Time) *time.Time { return &t }

// MemJobs implements core.JobRepository and core.ReaperRepository.
type MemJobs struct{ s *MemStore }

var (
	_ core.JobRepository    = (*MemJobs)(nil)
	_ core.ReaperRepository = (*MemJobs)(nil)
)

// CreateBatch implements core.JobRepository.
func (r *MemJobs) CreateBatch(_ context.Context, params core.CreateBatchParams) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.create_batch"); err != nil {
		return err
	}
	for _, j := range params.Jobs {
		if _, ok := s.jobs[j.ID]; ok {
			return apperrors.Conflictf("job %s already exists", j.ID)
		}
	}
	if params.Batch != nil {
		if _, ok := s.batches[params.Batch.ID]; ok {
			return apperrors.Conflictf("batch %s already exists", params.Batch.ID)
		}
		s.batches[params.Batch.ID] = &memBatch{batch: params.Batch.Clone(), version: 1}
	}
	for _, j := range params.Jobs {
		s.jobs[j.ID] = cloneJob(j)
		s.order = append(s.order, j.ID)
	}
	return nil
}

// GetByID implements core.JobRepository.
func (r *MemJobs) GetByID(_ context.Context, id string) (*model.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.get"); err != nil {
		return nil, err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// Claim implements core.JobRepository.
func (r *MemJobs) Claim(_ context.Context, id string) (*model.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.claim"); err != nil {
		return nil, err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if j.Status != model.JobStatusQueued {
		return nil, model.ErrJobNotClaimable
	}
	now := s.now().UTC()
	j.Status = model.JobStatusProcessing
	j.StartedAt = timePtr(now)
	j.NextRetryAt = nil
	j.UpdatedAt = now
	return cloneJob(j), nil
}

// Complete implements core.JobRepository.
func (r *MemJobs) Complete(_ context.Context, params core.CompleteJobParams) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.complete"); err != nil {
		return false, err
	}
	if params.Record == nil {
		return false, errors.New("analysis record is required")
	}
	j, ok := s.jobs[params.JobID]
	if !ok || j.Status != model.JobStatusProcessing {
		return false, nil
	}
	now := s.now().UTC()
	rec := *params.Record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	s.records[rec.ID] = &rec

	j.Status = model.JobStatusCompleted
	j.Result = rec.Result
	j.RecordID = &rec.ID
	j.Error = nil
	j.NextRetryAt = nil
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return true, nil
}

// Fail implements core.JobRepository.
func (r *MemJobs) Fail(_ context.Context, params core.FailJobParams) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.fail"); err != nil {
		return false, err
	}
	j, ok := s.jobs[params.JobID]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	now := s.now().UTC()
	reason := params.Reason
	j.Status = model.JobStatusFailed
	j.Error = &reason
	if params.RetryCount != nil {
		j.RetryCount = *params.RetryCount
	}
	j.NextRetryAt = nil
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return true, nil
}

// Requeue implements core.JobRepository.
func (r *MemJobs) Requeue(_ context.Context, params core.RequeueJobParams) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.requeue"); err != nil {
		return false, err
	}
	j, ok := s.jobs[params.JobID]
	if !ok || j.Status != model.JobStatusProcessing || j.RetryCount >= params.RetryCount {
		return false, nil
	}
	reason := params.Reason
	j.Status = model.JobStatusQueued
	j.RetryCount = params.RetryCount
	j.NextRetryAt = timePtr(params.NextRetryAt.UTC())
	j.Error = &reason
	j.UpdatedAt = s.now().UTC()
	return true, nil
}

// Defer implements core.JobRepository.
func (r *MemJobs) Defer(_ context.Context, jobID string, nextRetryAt time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.defer"); err != nil {
		return false, err
	}
	j, ok := s.jobs[jobID]
	if !ok || (j.Status != model.JobStatusProcessing && j.Status != model.JobStatusQueued) {
		return false, nil
	}
	j.Status = model.JobStatusQueued
	j.NextRetryAt = timePtr(nextRetryAt.UTC())
	j.UpdatedAt = s.now().UTC()
	return true, nil
}

// ClaimDueRetries implements core.JobRepository.
func (r *MemJobs) ClaimDueRetries(_ context.Context, params core.ClaimDueRetriesParams) ([]*model.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.claim_due_retries"); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		return nil, nil
	}
	now := params.Now.UTC()
	var due []*model.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status == model.JobStatusQueued && j.NextRetryAt != nil && !j.NextRetryAt.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].NextRetryAt.Before(*due[b].NextRetryAt) })
	if len(due) > params.Limit {
		due = due[:params.Limit]
	}
	out := make([]*model.Job, 0, len(due))
	for _, j := range due {
		j.NextRetryAt = timePtr(now.Add(params.Grace))
		j.UpdatedAt = now
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// ListByBatch implements core.JobRepository.
func (r *MemJobs) ListByBatch(_ context.Context, batchID string) ([]*model.Job, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.list_by_batch"); err != nil {
		return nil, err
	}
	var out []*model.Job
	for _, id := range s.order {
		if j := s.jobs[id]; j.BatchID != nil && *j.BatchID == batchID {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

// StatusesByBatch implements core.JobRepository.
func (r *MemJobs) StatusesByBatch(_ context.Context, batchID string) (map[string]model.JobStatus, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("jobs.statuses_by_batch"); err != nil {
		return nil, err
	}
	out := make(map[string]model.JobStatus)
	for id, j := range s.jobs {
		if j.BatchID != nil && *j.BatchID == batchID {
			out[id] = j.Status
		}
	}
	return out, nil
}

// CountsByBatch implements core.JobRepository.
func (r *MemJobs) CountsByBatch(ctx context.Context, batchID string) (model.JobStatusCounts, error) {
	statuses, err := r.StatusesByBatch(ctx, batchID)
	if err != nil {
		return model.JobStatusCounts{}, err
	}
	var c model.JobStatusCounts
	for _, st := range statuses {
		c.Add(st, 1)
	}
	return c, nil
}

// RequeueStaleProcessing implements core.ReaperRepository.
func (r *MemJobs) RequeueStaleProcessing(_ context.Context, params core.RequeueStaleParams) (core.StaleProcessingResult, error) {
	var res core.StaleProcessingResult
	if params.BatchSize <= 0 || params.MaxAge <= 0 {
		return res, errors.New("batch size and max age must be greater than zero")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("reaper.requeue_stale_processing"); err != nil {
		return res, err
	}
	now := s.now().UTC()
	cutoff := now.Add(-params.MaxAge)
	n := 0
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != model.JobStatusProcessing || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		if n == params.BatchSize {
			break
		}
		n++
		j.UpdatedAt = now
		if j.RetryCount >= params.MaxRetries {
			reason := "Max retries exceeded: processing stalled"
			j.Status = model.JobStatusFailed
			j.Error = &reason
			j.NextRetryAt = nil
			j.CompletedAt = timePtr(now)
			res.Failed = append(res.Failed, model.JobRef{ID: j.ID, BatchID: j.BatchID, Status: j.Status})
			continue
		}
		reason := "processing stalled"
		j.Status = model.JobStatusQueued
		j.RetryCount++
		j.Error = &reason
		j.NextRetryAt = timePtr(now)
		res.Requeued++
	}
	return res, nil
}

// FailStaleQueuedJobs implements core.ReaperRepository.
func (r *MemJobs) FailStaleQueuedJobs(_ context.Context, maxAge time.Duration, batchSize int) ([]model.JobRef, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("reaper.fail_stale_queued"); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	cutoff := now.Add(-maxAge)
	var refs []model.JobRef
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != model.JobStatusQueued || j.NextRetryAt != nil || !j.CreatedAt.Before(cutoff) {
			continue
		}
		if len(refs) == batchSize {
			break
		}
		reason := "never dispatched"
		j.Status = model.JobStatusFailed
		j.Error = &reason
		j.CompletedAt = timePtr(now)
		j.UpdatedAt = now
		refs = append(refs, model.JobRef{ID: j.ID, BatchID: j.BatchID, Status: j.Status})
	}
	return refs, nil
}

// StripTerminalPayloads implements core.ReaperRepository.
func (r *MemJobs) StripTerminalPayloads(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("reaper.strip_payloads"); err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-maxAge)
	var n int64
	for _, id := range s.order {
		j := s.jobs[id]
		if !j.Status.Terminal() || j.PayloadStripped || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		if n == int64(batchSize) {
			break
		}
		if p, err := j.DecodePayload(); err == nil {
			p.Data = ""
			if raw, err := json.Marshal(p); err == nil {
				j.Payload = raw
			}
		}
		j.PayloadStripped = true
		n++
	}
	return n, nil
}

// MemBatches implements core.BatchRepository with version CAS.
type MemBatches struct{ s *MemStore }

var _ core.BatchRepository = (*MemBatches)(nil)

// Get implements core.BatchRepository.
func (r *MemBatches) Get(_ context.Context, id string) (*model.Batch, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("batches.get"); err != nil {
		return nil, 0, err
	}
	mb, ok := s.batches[id]
	if !ok {
		return nil, 0, model.ErrBatchNotFound
	}
	return mb.batch.Clone(), mb.version, nil
}

// UpdateIfVersion implements core.BatchRepository.
func (r *MemBatches) UpdateIfVersion(_ context.Context, batch *model.Batch, expected int64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("batches.update"); err != nil {
		return 0, err
	}
	mb, ok := s.batches[batch.ID]
	if !ok {
		return 0, model.ErrBatchNotFound
	}
	if mb.version != expected {
		return 0, apperrors.VersionConflict("batch " + batch.ID + " was modified concurrently")
	}
	mb.batch = batch.Clone()
	mb.version++
	return mb.version, nil
}

// MemRecords implements core.AnalysisRecordRepository.
type MemRecords struct{ s *MemStore }

var _ core.AnalysisRecordRepository = (*MemRecords)(nil)

// GetByID implements core.AnalysisRecordRepository.
func (r *MemRecords) GetByID(_ context.Context, id string) (*model.AnalysisRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("records.get"); err != nil {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// FindByBasenames implements core.AnalysisRecordRepository.
func (r *MemRecords) FindByBasenames(_ context.Context, basenames []string) (map[string]string, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("records.find_by_basenames"); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(basenames))
	for _, b := range basenames {
		want[b] = struct{}{}
	}
	out := make(map[string]string)
	newest := make(map[string]time.Time)
	for _, rec := range s.records {
		if _, ok := want[rec.Basename]; !ok {
			continue
		}
		if prev, ok := newest[rec.Basename]; ok && !rec.CreatedAt.After(prev) {
			continue
		}
		newest[rec.Basename] = rec.CreatedAt
		out[rec.Basename] = rec.ID
	}
	return out, nil
}

// MemFeedback implements core.FeedbackRepository.
type MemFeedback struct{ s *MemStore }

var _ core.FeedbackRepository = (*MemFeedback)(nil)

// Create implements core.FeedbackRepository; the content hash is unique.
func (r *MemFeedback) Create(_ context.Context, fb *model.Feedback) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("feedback.create"); err != nil {
		return err
	}
	for _, existing := range s.feedback {
		if existing.SystemID == fb.SystemID && existing.ContentHash == fb.ContentHash {
			return apperrors.Conflict("feedback with this content already exists")
		}
	}
	cp := *fb
	s.feedback = append(s.feedback, &cp)
	return nil
}

// FindByHash implements core.FeedbackRepository.
func (r *MemFeedback) FindByHash(_ context.Context, systemID, hash string) (*model.Feedback, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("feedback.find_by_hash"); err != nil {
		return nil, err
	}
	for _, fb := range s.feedback {
		if fb.SystemID == systemID && fb.ContentHash == hash {
			cp := *fb
			return &cp, nil
		}
	}
	return nil, nil
}

// ListRecent implements core.FeedbackRepository.
func (r *MemFeedback) ListRecent(_ context.Context, systemID string, limit int) ([]*model.Feedback, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("feedback.list_recent"); err != nil {
		return nil, err
	}
	var out []*model.Feedback
	for i := len(s.feedback) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if fb := s.feedback[i]; strings.EqualFold(fb.SystemID, systemID) {
			cp := *fb
			out = append(out, &cp)
		}
	}
	return out, nil
}
