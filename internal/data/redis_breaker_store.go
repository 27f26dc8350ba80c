package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

const (
	defaultBreakerKeyPrefix = "bms:breaker:"
	breakerScanCount        = 100
)

// RedisBreakerStore shares circuit breaker state between processes. Each key is
// stored as a JSON document; writes are last-writer-wins, which is acceptable
// for breaker state.
type RedisBreakerStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ core.BreakerStateStore = (*RedisBreakerStore)(nil)

// RedisBreakerStoreOptions configures a RedisBreakerStore.
type RedisBreakerStoreOptions struct {
	Prefix string
	// TTL expires idle breaker keys; zero keeps them until reset.
	TTL time.Duration
}

// NewRedisBreakerStore creates a breaker state store backed by Redis.
func NewRedisBreakerStore(client redis.UniversalClient, opts RedisBreakerStoreOptions) *RedisBreakerStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultBreakerKeyPrefix
	}
	return &RedisBreakerStore{client: client, prefix: prefix, ttl: opts.TTL}
}

// Load implements core.BreakerStateStore.
func (s *RedisBreakerStore) Load(ctx context.Context, key string) (model.BreakerState, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.BreakerState{}, false, nil
	}
	if err != nil {
		return model.BreakerState{}, false, fmt.Errorf("redis get breaker %s: %w", key, err)
	}

	var st model.BreakerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.BreakerState{}, false, fmt.Errorf("decode breaker %s: %w", key, err)
	}
	st.Key = key
	return st, true, nil
}

// Save implements core.BreakerStateStore.
func (s *RedisBreakerStore) Save(ctx context.Context, state model.BreakerState) error {
	if state.Key == "" {
		return errors.New("breaker key cannot be empty")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode breaker %s: %w", state.Key, err)
	}
	if err := s.client.Set(ctx, s.prefix+state.Key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set breaker %s: %w", state.Key, err)
	}
	return nil
}

// Delete implements core.BreakerStateStore.
func (s *RedisBreakerStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del breaker %s: %w", key, err)
	}
	return nil
}

// List implements core.BreakerStateStore using SCAN, ordered by key.
func (s *RedisBreakerStore) List(ctx context.Context) ([]model.BreakerState, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", breakerScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan breakers: %w", err)
	}
	sort.Strings(keys)

	out := make([]model.BreakerState, 0, len(keys))
	for _, k := range keys {
		st, ok, err := s.Load(ctx, strings.TrimPrefix(k, s.prefix))
		if err != nil {
			return nil, err
		}
		// Expired or deleted between SCAN and GET.
		if !ok {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
