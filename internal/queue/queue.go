// Package queue carries job ids from the dispatcher to the worker pool.
// Two backends exist: an in-process channel queue and Redis Streams.
package queue

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

var (
	// ErrQueueFull is returned by the local queue when its buffer is full.
	ErrQueueFull = errors.New("task queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("task queue is closed")
)

// Queue is a task queue that both produces and consumes.
type Queue interface {
	core.TaskProducer
	core.TaskConsumer
	Close() error
}

const (
	fieldJobID      = "job_id"
	fieldAttempt    = "attempt"
	fieldEnqueuedAt = "enqueued_at"
)

func encodeMessage(msg model.TaskMessage) map[string]any {
	enqueuedAt := msg.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	return map[string]any{
		fieldJobID:      msg.JobID,
		fieldAttempt:    msg.Attempt,
		fieldEnqueuedAt: enqueuedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeMessage(values map[string]any) (model.TaskMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString(fieldJobID)
	if err != nil {
		return model.TaskMessage{}, err
	}
	if jobID == "" {
		return model.TaskMessage{}, errors.New("empty job_id")
	}

	msg := model.TaskMessage{JobID: jobID}
	if raw, aerr := getString(fieldAttempt); aerr == nil {
		attempt, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return model.TaskMessage{}, fmt.Errorf("invalid attempt: %w", convErr)
		}
		msg.Attempt = attempt
	}
	if raw, terr := getString(fieldEnqueuedAt); terr == nil {
		at, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return model.TaskMessage{}, fmt.Errorf("invalid enqueued_at: %w", parseErr)
		}
		msg.EnqueuedAt = at
	}
	return msg, nil
}
