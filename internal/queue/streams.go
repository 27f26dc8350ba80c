package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

const (
	defaultStream   = "bms:jobs"
	defaultGroup    = "bms-workers"
	defaultConsumer = "worker-1"
	defaultBlock    = 5 * time.Second
)

// StreamsOptions configures a Streams queue.
type StreamsOptions struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds a single XREADGROUP call.
	Block time.Duration
	// ClaimIdle reclaims messages left pending by a dead consumer once they
	// have been idle this long. Zero disables reclaiming.
	ClaimIdle time.Duration
	// MaxLen trims the stream approximately; zero leaves it unbounded.
	MaxLen int64
	Logger *slog.Logger
}

// Streams is a task queue backed by a Redis Streams consumer group.
type Streams struct {
	client    redis.UniversalClient
	stream    string
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	maxLen    int64
	logger    *slog.Logger
	closed    atomic.Bool
}

var _ Queue = (*Streams)(nil)

// NewStreams creates the consumer group if needed and returns the queue. The
// client is owned by the caller.
func NewStreams(ctx context.Context, client redis.UniversalClient, opts StreamsOptions) (*Streams, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	q := &Streams{
		client:    client,
		stream:    opts.Stream,
		group:     opts.Group,
		consumer:  opts.Consumer,
		block:     opts.Block,
		claimIdle: opts.ClaimIdle,
		maxLen:    opts.MaxLen,
		logger:    opts.Logger,
	}
	if q.stream == "" {
		q.stream = defaultStream
	}
	if q.group == "" {
		q.group = defaultGroup
	}
	if q.consumer == "" {
		q.consumer = defaultConsumer
	}
	if q.block <= 0 {
		q.block = defaultBlock
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("component", "streams_queue", "stream", q.stream, "group", q.group)

	if err := q.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// EnsureGroup creates the stream and consumer group, ignoring BUSYGROUP.
func (q *Streams) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

// Enqueue appends msg to the stream.
func (q *Streams) Enqueue(ctx context.Context, msg model.TaskMessage) error {
	if q.closed.Load() {
		return ErrClosed
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: encodeMessage(msg),
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

// Receive returns the next message for this consumer. Reclaimed idle
// messages are served before new ones. Malformed entries are acknowledged
// and skipped.
func (q *Streams) Receive(ctx context.Context) (*core.Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, ok, err := q.next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		msg, parseErr := decodeMessage(item.Values)
		if parseErr != nil {
			q.logger.WarnContext(ctx, "dropping malformed stream message", "message_id", item.ID, "error", parseErr)
			if ackErr := q.ack(ctx, item.ID); ackErr != nil {
				q.logger.WarnContext(ctx, "failed to ack malformed message", "message_id", item.ID, "error", ackErr)
			}
			continue
		}

		id := item.ID
		return &core.Delivery{
			Message: msg,
			Ack:     func(ctx context.Context) error { return q.ack(ctx, id) },
		}, nil
	}
}

func (q *Streams) next(ctx context.Context) (redis.XMessage, bool, error) {
	if q.claimIdle > 0 {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return redis.XMessage{}, false, ctx.Err()
			}
			return redis.XMessage{}, false, fmt.Errorf("xautoclaim: %w", err)
		}
		if len(claimed) > 0 {
			return claimed[0], true, nil
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		if ctx.Err() != nil {
			return redis.XMessage{}, false, ctx.Err()
		}
		return redis.XMessage{}, false, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			return s.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (q *Streams) ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, id)
	pipe.XDel(ctx, q.stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack stream message %s: %w", id, err)
	}
	return nil
}

// Pending returns the number of delivered but unacknowledged messages.
func (q *Streams) Pending(ctx context.Context) (int64, error) {
	res, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return res.Count, nil
}

// Close stops Receive and Enqueue. The Redis client stays open.
func (q *Streams) Close() error {
	q.closed.Store(true)
	return nil
}
