//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch(ids ...string) *Batch {
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, &Job{ID: id, FileName: id + ".png", Status: JobStatusQueued})
	}
	return NewBatch("b-1", jobs, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestNewBatch(t *testing.T) {
	b := newTestBatch("j1", "j2")
	assert.Equal(t, BatchStatusProcessing, b.Status)
	assert.Equal(t, 2, b.TotalJobs)
	require.Len(t, b.Jobs, 2)
	assert.Equal(t, "j1.png", b.Jobs[0].FileName)
	assert.Equal(t, JobStatusQueued, b.Jobs[1].Status)
}

func TestBatch_ApplyJobResult(t *testing.T) {
	now := time.Now()

	t.Run("counts each job once and completes at total", func(t *testing.T) {
		b := newTestBatch("j1", "j2")

		changed, err := b.ApplyJobResult("j1", JobStatusCompleted, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, BatchStatusProcessing, b.Status)
		assert.Nil(t, b.CompletedAt)

		changed, err = b.ApplyJobResult("j1", JobStatusCompleted, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 1, b.CompletedJobs)

		changed, err = b.ApplyJobResult("j2", JobStatusFailed, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 1, b.FailedJobs)
		assert.Equal(t, BatchStatusCompleted, b.Status)
		require.NotNil(t, b.CompletedAt)
	})

	t.Run("non terminal status is ignored", func(t *testing.T) {
		b := newTestBatch("j1")
		changed, err := b.ApplyJobResult("j1", JobStatusProcessing, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 0, b.Settled())
	})

	t.Run("unknown job", func(t *testing.T) {
		b := newTestBatch("j1")
		_, err := b.ApplyJobResult("nope", JobStatusCompleted, now)
		assert.ErrorIs(t, err, ErrBatchJobNotFound)
	})

	t.Run("refuses to exceed total", func(t *testing.T) {
		b := newTestBatch("j1", "j2")
		b.CompletedJobs = 2
		_, err := b.ApplyJobResult("j1", JobStatusCompleted, now)
		assert.ErrorIs(t, err, ErrBatchCountsExceeded)
	})
}

func TestBatch_ApplyCounts(t *testing.T) {
	now := time.Now()
	b := newTestBatch("j1", "j2", "j3")
	b.CompletedJobs = 3 // stale, over-counted

	b.ApplyCounts(map[string]JobStatus{"j1": JobStatusCompleted, "j2": JobStatusProcessing}, now)
	assert.Equal(t, 1, b.CompletedJobs)
	assert.Equal(t, 0, b.FailedJobs)
	assert.Equal(t, BatchStatusProcessing, b.Status)
	assert.Nil(t, b.CompletedAt)

	b.ApplyCounts(map[string]JobStatus{"j2": JobStatusFailed, "j3": JobStatusCompleted}, now)
	assert.Equal(t, 2, b.CompletedJobs)
	assert.Equal(t, 1, b.FailedJobs)
	assert.Equal(t, BatchStatusCompleted, b.Status)
	assert.NotNil(t, b.CompletedAt)
}

func TestBatch_Clone(t *testing.T) {
	b := newTestBatch("j1")
	c := b.Clone()
	c.Jobs[0].Status = JobStatusFailed
	assert.Equal(t, JobStatusQueued, b.Jobs[0].Status)
	assert.Nil(t, (*Batch)(nil).Clone())
}
