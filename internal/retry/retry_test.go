package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/bms-ingest/internal/errors"
)

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testPolicy(rec *recordedSleep) Policy {
	return Policy{
		Op:             "test",
		MaxRetries:     3,
		InitialDelay:   10 * time.Millisecond,
		JitterFraction: -1,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:          rec.sleep,
	}
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	want := apperrors.Validation("bad input")
	err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		calls++
		return want
	})

	require.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := Do(context.Background(), testPolicy(rec), func(context.Context) error {
		calls++
		return apperrors.VersionConflict("attempt " + string(rune('0'+calls)))
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, "attempt 4", err.Error())
	assert.Len(t, rec.delays, 3)
}

func TestDo_LinearBackoff(t *testing.T) {
	rec := &recordedSleep{}
	p := testPolicy(rec)
	p.MaxRetries = 2
	p.Backoff = Linear(75 * time.Millisecond)

	_ = Do(context.Background(), p, func(context.Context) error {
		return apperrors.VersionConflict("conflict")
	})

	assert.Equal(t, []time.Duration{75 * time.Millisecond, 150 * time.Millisecond}, rec.delays)
}

func TestDo_NoRetries(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	err := Do(context.Background(), testPolicy(rec).NoRetries(), func(context.Context) error {
		calls++
		return syscall.ECONNREFUSED
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy(&recordedSleep{})
	p.Sleep = nil
	p.InitialDelay = time.Hour

	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return syscall.ECONNRESET
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, syscall.ECONNRESET))
	assert.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	rec := &recordedSleep{}
	calls := 0
	v, err := DoValue(context.Background(), testPolicy(rec), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", io.ErrUnexpectedEOF
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, JitterFraction: -1}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))

	jittered := Policy{InitialDelay: time.Second, JitterFraction: 0.5}
	for range 20 {
		d := jittered.Delay(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
