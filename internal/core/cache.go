// Package core defines the ports of the bms-ingest pipeline and the small services built directly on them.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/bms-ingest/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// The core defines the interface and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// JobReader loads a job by id.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*model.Job, error)
}

// StatusCacheService caches terminal job records for status polling and
// guards worker kickoffs against duplicate enqueues.
type StatusCacheService struct {
	cache      CacheRepository
	jobs       JobReader
	ttl        time.Duration
	kickoffTTL time.Duration
}

// StatusCacheConfig holds configuration for status caching.
type StatusCacheConfig struct {
	TTL        time.Duration `json:"ttl"`
	KickoffTTL time.Duration `json:"kickoff_ttl"`
}

// StatusCacheServiceOptions bundles dependencies for NewStatusCacheService.
type StatusCacheServiceOptions struct {
	Cache  CacheRepository
	Jobs   JobReader
	Config StatusCacheConfig
}

// DefaultStatusCacheConfig returns a StatusCacheConfig with sensible defaults.
func DefaultStatusCacheConfig() StatusCacheConfig {
	return StatusCacheConfig{
		TTL:        10 * time.Minute,
		KickoffTTL: 30 * time.Second,
	}
}

// NewStatusCacheService creates a new StatusCacheService. A nil cache disables caching.
func NewStatusCacheService(opts StatusCacheServiceOptions) *StatusCacheService {
	cfg := opts.Config
	def := DefaultStatusCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.KickoffTTL <= 0 {
		cfg.KickoffTTL = def.KickoffTTL
	}
	return &StatusCacheService{
		cache:      opts.Cache,
		jobs:       opts.Jobs,
		ttl:        cfg.TTL,
		kickoffTTL: cfg.KickoffTTL,
	}
}

// GetJob returns a job without its image payload, serving terminal jobs from
// the cache when possible. Non-terminal jobs are never cached since they
// still change.
func (s *StatusCacheService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, s.jobKey(id)); err == nil && len(raw) > 0 {
			var cached model.Job
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	stored, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	job := stored.WithoutPayload()

	if s.cache != nil && job.Status.Terminal() {
		if raw, mErr := json.Marshal(job); mErr == nil {
			// Best effort; the database stays authoritative.
			_ = s.cache.Set(ctx, s.jobKey(id), raw, s.ttl)
		}
	}
	return job, nil
}

// AcquireKickoff reports whether the caller may enqueue jobID now. Without a
// cache every kickoff is allowed; the worker's conditional claim still
// prevents double processing.
func (s *StatusCacheService) AcquireKickoff(ctx context.Context, jobID string) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	return s.cache.SetIfNotExists(ctx, s.kickoffKey(jobID), []byte("1"), s.kickoffTTL)
}

// ReleaseKickoff clears the kickoff guard, e.g. after a failed enqueue.
func (s *StatusCacheService) ReleaseKickoff(ctx context.Context, jobID string) error {
	if s.cache == nil {
		return nil
	}
	_, err := s.cache.Delete(ctx, s.kickoffKey(jobID))
	return err
}

// InvalidateJob removes a cached job record.
func (s *StatusCacheService) InvalidateJob(ctx context.Context, jobID string) error {
	if s.cache == nil || jobID == "" {
		return nil
	}
	_, err := s.cache.Delete(ctx, s.jobKey(jobID))
	return err
}

func (s *StatusCacheService) jobKey(id string) string {
	return "job:status:" + id
}

func (s *StatusCacheService) kickoffKey(id string) string {
	return "job:kickoff:" + id
}
