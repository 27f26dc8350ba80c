package queue

import (
	"context"
	"sync"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

const defaultLocalBuffer = 512

// Local is an in-process queue used when Redis is not configured. Messages do
// not survive a restart; the retry sweeper and reaper recover affected jobs.
type Local struct {
	ch   chan model.TaskMessage
	done chan struct{}
	once sync.Once
}

var _ Queue = (*Local)(nil)

// NewLocal returns a Local queue holding up to buffer messages.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = defaultLocalBuffer
	}
	return &Local{
		ch:   make(chan model.TaskMessage, buffer),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks; a full buffer returns ErrQueueFull.
func (q *Local) Enqueue(ctx context.Context, msg model.TaskMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks until a message arrives, the queue is closed, or ctx ends.
func (q *Local) Receive(ctx context.Context) (*core.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrClosed
	case msg := <-q.ch:
		return &core.Delivery{
			Message: msg,
			Ack:     func(context.Context) error { return nil },
		}, nil
	}
}

// Len reports the number of buffered messages.
func (q *Local) Len() int {
	return len(q.ch)
}

// Close stops the queue. Buffered messages are dropped.
func (q *Local) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
