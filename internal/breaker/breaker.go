// Package breaker implements keyed circuit breakers over a pluggable state store.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/observability/metrics"
)

const (
	// GlobalKey guards operations that are not tied to one external tool.
	GlobalKey = "global"
	// toolPrefix namespaces per-tool breakers away from the global one.
	toolPrefix = "tool:"

	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second

	// recordTimeout bounds the store writes that follow a call. They run on a
	// context detached from the caller, whose deadline may already have passed.
	recordTimeout = 5 * time.Second
)

// ToolKey returns the breaker key for an external tool.
func ToolKey(name string) string {
	return toolPrefix + strings.ToLower(strings.TrimSpace(name))
}

// IsToolKey reports whether key belongs to the per-tool namespace.
func IsToolKey(key string) bool {
	return strings.HasPrefix(key, toolPrefix)
}

// OpenError is returned when a call is rejected because its breaker is open.
type OpenError struct {
	Key        string
	RetryAfter time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Key, e.RetryAfter.UTC().Format(time.RFC3339))
}

// IsOpen reports whether err is (or wraps) an *OpenError.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// AsOpen extracts an *OpenError from err.
func AsOpen(err error) (*OpenError, bool) {
	var openErr *OpenError
	if errors.As(err, &openErr) {
		return openErr, true
	}
	return nil, false
}

// Options configures a Registry.
type Options struct {
	Store     core.BreakerStateStore
	Threshold int
	Cooldown  time.Duration
	// IsFailure decides whether an Execute error counts against the breaker.
	// Defaults to apperrors.IsTransient so permanent content errors never trip it.
	IsFailure func(error) bool
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   metrics.Sink
}

// Registry tracks one state machine per key. State lives in the store; the
// mutex serializes transitions within this process only, so a shared store
// gives best-effort cross-process behavior.
type Registry struct {
	store     core.BreakerStateStore
	threshold int
	cooldown  time.Duration
	isFailure func(error) bool
	now       func() time.Time
	logger    *slog.Logger
	metrics   metrics.Sink

	mu sync.Mutex
}

// NewRegistry constructs a Registry, defaulting to an in-memory store.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store:     opts.Store,
		threshold: opts.Threshold,
		cooldown:  opts.Cooldown,
		isFailure: opts.IsFailure,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.threshold <= 0 {
		r.threshold = defaultThreshold
	}
	if r.cooldown <= 0 {
		r.cooldown = defaultCooldown
	}
	if r.isFailure == nil {
		r.isFailure = apperrors.IsTransient
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "circuit_breaker")
	return r
}

// Threshold returns the consecutive-failure count that opens a breaker.
func (r *Registry) Threshold() int { return r.threshold }

// Cooldown returns how long an open breaker rejects calls.
func (r *Registry) Cooldown() time.Duration { return r.cooldown }

// Allow admits a call for key or returns *OpenError. An open breaker whose
// cooldown elapsed moves to half-open and admits exactly one trial call.
func (r *Registry) Allow(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	now := r.now()

	switch st.State {
	case model.CircuitOpen:
		retryAt := st.OpenedAt.Add(r.cooldown)
		if now.Before(retryAt) {
			return &OpenError{Key: key, RetryAfter: retryAt}
		}
		r.transition(ctx, &st, model.CircuitHalfOpen)
		st.TrialInFlight = true
		st.TrialAt = &now
		return r.store.Save(ctx, st)
	case model.CircuitHalfOpen:
		// A trial call whose outcome was never recorded is abandoned after one cooldown.
		if st.TrialInFlight && st.TrialAt != nil && now.Before(st.TrialAt.Add(r.cooldown)) {
			return &OpenError{Key: key, RetryAfter: st.TrialAt.Add(r.cooldown)}
		}
		st.TrialInFlight = true
		st.TrialAt = &now
		return r.store.Save(ctx, st)
	default:
		return nil
	}
}

// RecordSuccess closes a half-open breaker and clears the failure count.
func (r *Registry) RecordSuccess(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if st.State == model.CircuitClosed && st.FailureCount == 0 {
		return nil
	}
	if st.State == model.CircuitOpen {
		// A call admitted before the breaker opened; it does not close it.
		return nil
	}
	if st.State == model.CircuitHalfOpen {
		r.transition(ctx, &st, model.CircuitClosed)
	}
	clearCounters(&st)
	return r.store.Save(ctx, st)
}

// RecordFailure counts a failure, opening the breaker at the threshold or
// reopening it when a half-open trial call fails.
func (r *Registry) RecordFailure(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	now := r.now()
	st.FailureCount++
	st.LastFailureAt = &now

	switch st.State {
	case model.CircuitHalfOpen:
		r.open(ctx, &st, now)
	case model.CircuitClosed:
		if st.FailureCount >= r.threshold {
			r.open(ctx, &st, now)
		}
	}
	return r.store.Save(ctx, st)
}

// IsOpen reports whether a call for key would currently be rejected.
func (r *Registry) IsOpen(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.load(ctx, key)
	if err != nil {
		return false, err
	}
	now := r.now()
	switch st.State {
	case model.CircuitOpen:
		return now.Before(st.OpenedAt.Add(r.cooldown)), nil
	case model.CircuitHalfOpen:
		return st.TrialInFlight && st.TrialAt != nil && now.Before(st.TrialAt.Add(r.cooldown)), nil
	default:
		return false, nil
	}
}

// Execute runs fn under the breaker for key. Rejected calls return *OpenError
// without running fn. Errors that IsFailure rejects (permanent failures)
// count as a healthy dependency.
func (r *Registry) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := r.Allow(ctx, key); err != nil {
		return err
	}

	callErr := fn(ctx)

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var recErr error
	switch {
	case callErr != nil && errors.Is(callErr, context.Canceled):
		// The caller gave up; say nothing about the dependency. Release any trial call.
		recErr = r.releaseTrial(recCtx, key)
	case callErr != nil && r.isFailure(callErr):
		recErr = r.RecordFailure(recCtx, key)
	default:
		recErr = r.RecordSuccess(recCtx, key)
	}
	if recErr != nil {
		r.logger.WarnContext(recCtx, "failed to record breaker outcome", "key", key, "error", recErr)
	}
	return callErr
}

// Reset force-closes the breaker for key and reports whether it was open.
func (r *Registry) Reset(ctx context.Context, key string) (model.BreakerResetResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, found, err := r.store.Load(ctx, key)
	if err != nil {
		return model.BreakerResetResult{}, err
	}
	res := model.BreakerResetResult{Key: key}
	if !found {
		return res, nil
	}
	res.WasOpen = st.State != model.CircuitClosed
	if res.WasOpen {
		r.transition(ctx, &st, model.CircuitClosed)
		r.logger.InfoContext(ctx, "circuit breaker reset", "key", key)
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return model.BreakerResetResult{}, err
	}
	return res, nil
}

// ResetAll force-closes every known breaker.
func (r *Registry) ResetAll(ctx context.Context) ([]model.BreakerResetResult, error) {
	states, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.BreakerResetResult, 0, len(states))
	for _, st := range states {
		res, err := r.Reset(ctx, st.Key)
		if err != nil {
			return out, fmt.Errorf("reset %s: %w", st.Key, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Snapshot returns the current state for key.
func (r *Registry) Snapshot(ctx context.Context, key string) (model.BreakerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, key)
}

// List returns every stored breaker state.
func (r *Registry) List(ctx context.Context) ([]model.BreakerState, error) {
	return r.store.List(ctx)
}

func (r *Registry) load(ctx context.Context, key string) (model.BreakerState, error) {
	st, found, err := r.store.Load(ctx, key)
	if err != nil {
		return model.BreakerState{}, fmt.Errorf("load breaker %s: %w", key, err)
	}
	if !found {
		return model.NewBreakerState(key), nil
	}
	return st, nil
}

func (r *Registry) releaseTrial(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	if st.State != model.CircuitHalfOpen || !st.TrialInFlight {
		return nil
	}
	st.TrialInFlight = false
	st.TrialAt = nil
	return r.store.Save(ctx, st)
}

func (r *Registry) open(ctx context.Context, st *model.BreakerState, now time.Time) {
	r.transition(ctx, st, model.CircuitOpen)
	st.OpenedAt = &now
	st.TrialInFlight = false
	st.TrialAt = nil
	r.logger.WarnContext(ctx, "circuit breaker opened",
		"key", st.Key,
		"failures", st.FailureCount,
		"cooldown", r.cooldown,
	)
}

func (r *Registry) transition(_ context.Context, st *model.BreakerState, to model.CircuitState) {
	if st.State == to {
		return
	}
	metrics.EmitBreakerTransition(r.metrics, st.Key, string(st.State), string(to))
	st.State = to
}

func clearCounters(st *model.BreakerState) {
	st.State = model.CircuitClosed
	st.FailureCount = 0
	st.OpenedAt = nil
	st.LastFailureAt = nil
	st.TrialInFlight = false
	st.TrialAt = nil
}
