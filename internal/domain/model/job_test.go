//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Valid(t *testing.T) {
	assert.True(t, JobStatusQueued.Valid())
	assert.True(t, JobStatusProcessing.Valid())
	assert.True(t, JobStatusCompleted.Valid())
	assert.True(t, JobStatusFailed.Valid())
	assert.False(t, JobStatus("pending").Valid())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobStatus_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    JobStatus
		wantErr bool
	}{
		{in: "Queued", want: JobStatusQueued},
		{in: "queued", want: JobStatusQueued},
		{in: " PROCESSING ", want: JobStatusProcessing},
		{in: "completed", want: JobStatusCompleted},
		{in: "Failed", want: JobStatusFailed},
		{in: "running", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s JobStatus
			err := s.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestJob_DecodePayload(t *testing.T) {
	job := &Job{Payload: json.RawMessage(`{"fileName":"a.png","mimeType":"image/png","data":"aGk="}`)}
	p, err := job.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, "a.png", p.FileName)
	assert.Equal(t, "aGk=", p.Data)

	_, err = (&Job{}).DecodePayload()
	require.Error(t, err)

	_, err = (&Job{Payload: json.RawMessage(`{`)}).DecodePayload()
	require.Error(t, err)
}

func TestJob_WithoutPayload(t *testing.T) {
	job := &Job{ID: "j-1", FileName: "a.png", Payload: json.RawMessage(`{"data":"aGk="}`)}
	out := job.WithoutPayload()
	assert.Nil(t, out.Payload)
	assert.Equal(t, "j-1", out.ID)
	assert.NotNil(t, job.Payload, "original is untouched")
	assert.Nil(t, (*Job)(nil).WithoutPayload())
}

func TestJob_InBatch(t *testing.T) {
	empty := ""
	id := "b-1"
	assert.False(t, (*Job)(nil).InBatch())
	assert.False(t, (&Job{}).InBatch())
	assert.False(t, (&Job{BatchID: &empty}).InBatch())
	assert.True(t, (&Job{BatchID: &id}).InBatch())
}

func TestJobStatusCounts(t *testing.T) {
	var c JobStatusCounts
	c.Add(JobStatusQueued, 2)
	c.Add(JobStatusCompleted, 3)
	c.Add(JobStatusFailed, 1)
	c.Add(JobStatus("bogus"), 9)
	assert.Equal(t, 6, c.Total())
	assert.Equal(t, 3, c.Completed)
}
