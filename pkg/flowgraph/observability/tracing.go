package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("flowgraph")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts the span covering a whole graph run.
	StartRunSpan(ctx context.Context, graphName, runID, threadID string) (context.Context, trace.Span)

	// StartNodeSpan starts a child span for one node. branchID is empty on
	// the main line.
	StartNodeSpan(ctx context.Context, nodeID, branchID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global OTel tracer
// provider (otel.SetTracerProvider).
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

func (otelSpanManager) StartRunSpan(ctx context.Context, graphName, runID, threadID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("graph.name", graphName),
		attribute.String("run.id", runID),
	}
	if threadID != "" {
		attrs = append(attrs, attribute.String("thread.id", threadID))
	}
	return tracer.Start(ctx, "flowgraph.run",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) StartNodeSpan(ctx context.Context, nodeID, branchID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("node.id", nodeID)}
	if branchID != "" {
		attrs = append(attrs, attribute.String("branch.id", branchID))
	}
	return tracer.Start(ctx, "flowgraph.node."+nodeID,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError sets the span status from err and ends it.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
