package metrics

import (
	"time"

	obserrors "github.com/target/bms-ingest/internal/observability/errors"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Job lifecycle transitions.
const (
	TransitionSubmitted = "submitted"
	TransitionClaimed   = "claimed"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionRequeued  = "requeued"
	TransitionDeferred  = "deferred"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Provider   string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"provider":   in.Provider,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitBreakerTransition counts a circuit breaker state change.
func EmitBreakerTransition(sink Sink, key, from, to string) {
	if sink == nil {
		return
	}
	sink.Count("breaker.transition", 1, map[string]string{"key": key, "from": from, "to": to})
}

// EmitBatchUpdate counts a batch aggregation attempt outcome (applied, noop, conflict, abandoned).
func EmitBatchUpdate(sink Sink, outcome string, attempts int) {
	if sink == nil {
		return
	}
	sink.Count("batch.update", 1, map[string]string{"outcome": outcome})
	if attempts > 0 {
		sink.Gauge("batch.update.attempts", float64(attempts), map[string]string{"outcome": outcome})
	}
}

// EmitDispatch counts per-item dispatch outcomes.
func EmitDispatch(sink Sink, status string, n int) {
	if sink == nil || n <= 0 {
		return
	}
	sink.Count("dispatch.item", int64(n), map[string]string{"status": status})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
