package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMiddleware_Success(t *testing.T) {
	tracer, rec := newRecordingTracer()
	metrics, reader := newTestMetrics(t)
	var buf bytes.Buffer
	mw := NewMiddleware(tracer, metrics, NewLoggerWithWriter("debug", &buf))

	fn := mw.Wrap(func(ctx context.Context, call CallMeta) (string, error) {
		return "hit", nil
	})
	outcome, err := fn(context.Background(), CallMeta{API: "f"})
	if err != nil || outcome != "hit" {
		t.Fatalf("Wrap() = %q, %v", outcome, err)
	}

	if len(rec.Ended()) != 1 {
		t.Errorf("spans = %d, want 1", len(rec.Ended()))
	}
	if got := sumFor(t, collect(t, reader), MetricCallTotal, AttrAPI.String("f"), AttrOutcome.String("hit")); got != 1 {
		t.Errorf("call.total = %d", got)
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "debug" || lines[0]["outcome"] != "hit" {
		t.Errorf("log = %v", lines)
	}
}

func TestMiddleware_ErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("upstream")
	var buf bytes.Buffer
	mw := NewMiddleware(nil, nil, NewLoggerWithWriter("info", &buf))

	fn := mw.Wrap(func(ctx context.Context, call CallMeta) (string, error) {
		return "miss", sentinel
	})
	if _, err := fn(context.Background(), CallMeta{API: "f"}); !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "warn" || lines[0]["error"] != "upstream" {
		t.Errorf("log = %v", lines)
	}
}

func TestMiddlewareFromObserver(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Errorf("nil observer error = %v", err)
	}
	mw, err := MiddlewareFromObserver(Nop())
	if err != nil || mw == nil {
		t.Fatalf("MiddlewareFromObserver(Nop()) = %v, %v", mw, err)
	}
}
