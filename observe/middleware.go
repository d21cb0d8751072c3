package observe

import (
	"context"
	"time"
)

// ExecuteFunc runs one memoized call and reports its outcome.
type ExecuteFunc func(ctx context.Context, call CallMeta) (outcome string, err error)

// Middleware wraps a memoized call with a span, call metrics and a log line.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger, now: time.Now}
}

// Metrics returns the metrics the middleware records into.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap instruments fn.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, call CallMeta) (string, error) {
		ctx, span := m.tracer.StartSpan(ctx, call)
		start := m.now()

		outcome, err := fn(ctx, call)

		d := m.now().Sub(start)
		m.tracer.EndSpan(span, outcome, err)
		m.metrics.RecordCall(ctx, call, outcome, d, err)

		log := m.logger.WithCall(call)
		fields := []Field{
			{Key: "outcome", Value: outcome},
			{Key: "duration_ms", Value: float64(d.Microseconds()) / 1000},
		}
		if err != nil {
			log.Warn(ctx, "call failed", append(fields, Field{Key: "error", Value: err})...)
		} else {
			log.Debug(ctx, "call completed", fields...)
		}
		return outcome, err
	}
}

// MiddlewareFromObserver builds a Middleware on obs.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
