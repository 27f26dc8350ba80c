// Package tracing wraps an OpenTelemetry tracer with pipeline-specific spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of bms-ingest spans.
const TracerName = "github.com/target/bms-ingest"

// Attribute keys.
const (
	AttrJobID    = "bms.job.id"
	AttrBatchID  = "bms.batch.id"
	AttrItems    = "bms.dispatch.items"
	AttrProvider = "bms.provider"
	AttrBreaker  = "bms.breaker.key"
	AttrRetryCnt = "bms.job.retry_count"
	AttrOutcome  = "bms.outcome"
	AttrAttempts = "bms.attempts"
)

// Tracer wraps an OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

// New creates a Tracer from tp, or from the global TracerProvider when tp is nil.
func New(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: tracenoop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a span with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		t = Noop()
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDispatch starts a span for a dispatch request.
func (t *Tracer) StartDispatch(ctx context.Context, items int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "bms.dispatch", attribute.Int(AttrItems, items))
}

// StartProcess starts a span for one worker invocation.
func (t *Tracer) StartProcess(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "bms.worker.process", attribute.String(AttrJobID, jobID))
}

// StartProviderCall starts a span around an analysis provider call.
func (t *Tracer) StartProviderCall(ctx context.Context, provider, jobID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "bms.provider.analyze",
		attribute.String(AttrProvider, provider),
		attribute.String(AttrJobID, jobID),
	)
}

// StartBatchUpdate starts a span for an aggregator read-modify-write cycle.
func (t *Tracer) StartBatchUpdate(ctx context.Context, batchID, jobID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "bms.batch.update",
		attribute.String(AttrBatchID, batchID),
		attribute.String(AttrJobID, jobID),
	)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOutcome tags the span with a terminal outcome label.
func SetOutcome(span trace.Span, outcome string) {
	if span == nil || outcome == "" {
		return
	}
	span.SetAttributes(attribute.String(AttrOutcome, outcome))
}
