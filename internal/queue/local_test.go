package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/domain/model"
)

func TestLocal_EnqueueReceive(t *testing.T) {
	q := NewLocal(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.TaskMessage{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, model.TaskMessage{JobID: "b", Attempt: 1}))
	assert.Equal(t, 2, q.Len())

	err := q.Enqueue(ctx, model.TaskMessage{JobID: "c"})
	require.ErrorIs(t, err, ErrQueueFull)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Message.JobID)
	require.NoError(t, d.Ack(ctx))

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Message.JobID)
	assert.Equal(t, 1, d.Message.Attempt)
}

func TestLocal_ReceiveHonorsContext(t *testing.T) {
	q := NewLocal(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_Close(t *testing.T) {
	q := NewLocal(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), model.TaskMessage{JobID: "a"})
	require.ErrorIs(t, err, ErrClosed)

	_, err = q.Receive(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestDecodeMessage(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		values  map[string]any
		want    model.TaskMessage
		wantErr bool
	}{
		{
			name:   "round trip",
			values: encodeMessage(model.TaskMessage{JobID: "j-1", Attempt: 2, EnqueuedAt: at}),
			want:   model.TaskMessage{JobID: "j-1", Attempt: 2, EnqueuedAt: at},
		},
		{
			name:   "redis string values",
			values: map[string]any{"job_id": "j-2", "attempt": "0"},
			want:   model.TaskMessage{JobID: "j-2"},
		},
		{name: "missing job id", values: map[string]any{"attempt": "1"}, wantErr: true},
		{name: "empty job id", values: map[string]any{"job_id": ""}, wantErr: true},
		{name: "bad attempt", values: map[string]any{"job_id": "j", "attempt": "x"}, wantErr: true},
		{name: "bad timestamp", values: map[string]any{"job_id": "j", "enqueued_at": "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMessage(tt.values)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.JobID, got.JobID)
			assert.Equal(t, tt.want.Attempt, got.Attempt)
			assert.True(t, tt.want.EnqueuedAt.Equal(got.EnqueuedAt))
		})
	}
}
