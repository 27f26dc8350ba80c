package breaker

import (
	"context"
	"sort"
	"sync"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

// MemoryStore keeps breaker state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]model.BreakerState
}

var _ core.BreakerStateStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]model.BreakerState)}
}

// Load implements core.BreakerStateStore.
func (s *MemoryStore) Load(_ context.Context, key string) (model.BreakerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	return st, ok, nil
}

// Save implements core.BreakerStateStore.
func (s *MemoryStore) Save(_ context.Context, state model.BreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key] = state
	return nil
}

// Delete implements core.BreakerStateStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

// List implements core.BreakerStateStore, ordered by key.
func (s *MemoryStore) List(_ context.Context) ([]model.BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BreakerState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
