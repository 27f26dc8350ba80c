package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestTracerSpans(t *testing.T) {
	tr := New(tracenoop.NewTracerProvider())
	ctx := context.Background()

	tests := []struct {
		name  string
		start func() (context.Context, trace.Span)
	}{
		{name: "dispatch", start: func() (context.Context, trace.Span) { return tr.StartDispatch(ctx, 3) }},
		{name: "process", start: func() (context.Context, trace.Span) { return tr.StartProcess(ctx, "j-1") }},
		{name: "provider call", start: func() (context.Context, trace.Span) { return tr.StartProviderCall(ctx, "ocr", "j-1") }},
		{name: "batch update", start: func() (context.Context, trace.Span) { return tr.StartBatchUpdate(ctx, "b-1", "j-1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spanCtx, span := tt.start()
			require.NotNil(t, spanCtx)
			require.NotNil(t, span)
			span.End()
		})
	}
}

func TestNilTracerFallsBackToNoop(t *testing.T) {
	var tr *Tracer
	_, span := tr.StartSpan(context.Background(), "x")
	require.NotNil(t, span)

	assert.NotPanics(t, func() {
		RecordError(span, errors.New("boom"))
		RecordError(nil, errors.New("boom"))
		SetOutcome(span, "completed")
		span.End()
	})
}
