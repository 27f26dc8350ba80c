// Package retry wraps store and provider calls with bounded, jittered backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/target/bms-ingest/internal/errors"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
)

// Backoff returns the base wait before retry number attempt (0-based).
type Backoff func(initial time.Duration, attempt int) time.Duration

// Exponential returns initial × 2^attempt.
func Exponential(initial time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return initial * time.Duration(1<<uint(max(attempt, 0)))
}

// Linear returns a Backoff of step × (attempt+1), ignoring the initial delay.
func Linear(step time.Duration) Backoff {
	return func(_ time.Duration, attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

// Policy configures Do. The zero value retries apperrors.IsRetryable failures
// three times starting at 100ms.
type Policy struct {
	// Op names the operation in retry warnings.
	Op           string
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// JitterFraction adds up to this fraction of the delay at random. Zero means 0.2; negative disables.
	JitterFraction float64
	Backoff        Backoff
	Retryable      func(error) bool
	Logger         *slog.Logger
	// Sleep overrides the wait between attempts (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	} else if p.MaxRetries == 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.JitterFraction == 0 {
		p.JitterFraction = 0.2
	}
	if p.Backoff == nil {
		p.Backoff = Exponential
	}
	if p.Retryable == nil {
		p.Retryable = apperrors.IsRetryable
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// NoRetries disables retrying while keeping the rest of the policy.
func (p Policy) NoRetries() Policy {
	p.MaxRetries = -1
	return p
}

// Delay returns the wait before retry number attempt, jitter included.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Backoff(p.InitialDelay, attempt)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		//nolint:gosec // jitter does not need a cryptographic source
		d += time.Duration(rand.Float64() * p.JitterFraction * float64(d))
	}
	return d
}

// Do runs fn, retrying retryable failures up to MaxRetries times.
// Non-retryable failures return immediately; after exhaustion the last failure is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) || attempt >= p.MaxRetries {
			return lastErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(lastErr, ctxErr)
		}

		delay := p.Delay(attempt)
		p.Logger.WarnContext(ctx, "retrying operation",
			"op", p.Op,
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"delay", delay,
			"reason", lastErr.Error(),
		)
		if err := p.Sleep(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
