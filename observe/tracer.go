package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// CallMeta identifies a memoized function for telemetry.
type CallMeta struct {
	API      string   // function identity, e.g. "quotes.Prices"
	Segments []string // resolved invalidation segments (optional)
}

// SpanName returns the span name for calls of this function.
func (m CallMeta) SpanName() string {
	return "tokencache.call." + m.API
}

// Attribute keys shared by spans and metrics.
const (
	AttrAPI      = attribute.Key("tokencache.api")
	AttrOutcome  = attribute.Key("tokencache.outcome")
	AttrSegments = attribute.Key("tokencache.segments")
	AttrError    = attribute.Key("tokencache.error")
	AttrOp       = attribute.Key("tokencache.op")
)

// Tracer opens one span per memoized call.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan is best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, call CallMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, outcome string, err error)
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer adapts an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		t = tracenoop.NewTracerProvider().Tracer("noop")
	}
	return &otelTracer{tracer: t}
}

func (t *otelTracer) StartSpan(ctx context.Context, call CallMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrAPI.String(call.API)}
	if len(call.Segments) > 0 {
		attrs = append(attrs, AttrSegments.StringSlice(call.Segments))
	}
	return t.tracer.Start(ctx, call.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *otelTracer) EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(AttrOutcome.String(outcome))
	}
	if err != nil {
		span.SetAttributes(AttrError.Bool(true))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
