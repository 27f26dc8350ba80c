package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	apperrors "github.com/target/bms-ingest/internal/errors"
)

func TestEmitJobLifecycle(t *testing.T) {
	sink := &CaptureSink{}
	EmitJobLifecycle(sink, JobMetric{
		Provider:   "ocr",
		Transition: TransitionFailed,
		Result:     ResultError,
		Duration:   150 * time.Millisecond,
		Err:        apperrors.Provider("unreadable"),
	})

	got := sink.Measurements()
	require.Len(t, got, 2)
	assert.Equal(t, "job.transition", got[0].Name)
	assert.Equal(t, "app_provider", got[0].Tags["error_class"])
	assert.Equal(t, "job.duration", got[1].Name)
	assert.InDelta(t, float64(150*time.Millisecond), got[1].Value, 0.1)
}

func TestEmitJobLifecycle_NoErrorClassOnSuccess(t *testing.T) {
	sink := &CaptureSink{}
	EmitJobLifecycle(sink, JobMetric{Transition: TransitionCompleted, Result: ResultSuccess, Err: errors.New("ignored")})
	got := sink.Measurements()
	require.Len(t, got, 1)
	_, ok := got[0].Tags["error_class"]
	assert.False(t, ok)

	EmitJobLifecycle(nil, JobMetric{})
}

func TestEmitBreakerAndBatch(t *testing.T) {
	sink := &CaptureSink{}
	EmitBreakerTransition(sink, "tool:ocr", "closed", "open")
	EmitBatchUpdate(sink, "conflict", 2)
	EmitDispatch(sink, "Submitted", 3)
	EmitDispatch(sink, "duplicate_batch", 0)

	assert.Equal(t, 1.0, sink.Sum("breaker.transition", map[string]string{"to": "open"}))
	assert.Equal(t, 1.0, sink.Sum("batch.update", map[string]string{"outcome": "conflict"}))
	assert.Equal(t, 2.0, sink.Sum("batch.update.attempts", nil))
	assert.Equal(t, 3.0, sink.Sum("dispatch.item", nil))
}

func TestOTelSink(t *testing.T) {
	sink := NewOTelSink(noop.NewMeterProvider(), map[string]string{"service": "bms-ingest"})
	sink.Count("job.transition", 1, map[string]string{"result": "success"})
	sink.Count("job.transition", 1, nil)
	sink.Gauge("queue.depth", 4, nil)
	sink.Timing("job.duration", time.Second, map[string]string{"": "dropped"})

	assert.Len(t, sink.counters, 1)
	assert.Len(t, sink.gauges, 1)
	assert.Len(t, sink.histograms, 1)

	attrs := sink.attrs(map[string]string{"b": "2", "a": "1"})
	require.Len(t, attrs, 3)
	assert.Equal(t, "a", string(attrs[0].Key))

	var nilSink *OTelSink
	nilSink.Count("x", 1, nil)
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1", "": "x"}
	out := CloneTags(src)
	out["a"] = "2"
	assert.Equal(t, "1", src["a"])
	assert.Len(t, out, 1)
}
