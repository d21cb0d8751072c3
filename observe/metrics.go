package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricCallTotal    = "tokencache.call.total"
	MetricCallErrors   = "tokencache.call.errors"
	MetricCallDuration = "tokencache.call.duration_ms"
	MetricStoreErrors  = "tokencache.store.errors"
)

// Metrics records memoized call outcomes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one call with its state machine outcome. err is the
	// error returned to the caller.
	RecordCall(ctx context.Context, call CallMeta, outcome string, d time.Duration, err error)

	// RecordStoreError records an infrastructure fault absorbed by the cache.
	RecordStoreError(ctx context.Context, call CallMeta, op string)
}

type otelMetrics struct {
	total       metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	storeErrors metric.Int64Counter
}

// NewMetrics creates the call instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var (
		m   otelMetrics
		err error
	)
	if m.total, err = meter.Int64Counter(MetricCallTotal,
		metric.WithDescription("Memoized calls by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter(MetricCallErrors,
		metric.WithDescription("Memoized calls that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram(MetricCallDuration,
		metric.WithDescription("Memoized call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.storeErrors, err = meter.Int64Counter(MetricStoreErrors,
		metric.WithDescription("Store faults absorbed by falling back to a direct call"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *otelMetrics) RecordCall(ctx context.Context, call CallMeta, outcome string, d time.Duration, err error) {
	api := metric.WithAttributes(AttrAPI.String(call.API))
	m.total.Add(ctx, 1, metric.WithAttributes(AttrAPI.String(call.API), AttrOutcome.String(outcome)))
	if err != nil {
		m.errors.Add(ctx, 1, api)
	}
	m.duration.Record(ctx, float64(d.Microseconds())/1000, api)
}

func (m *otelMetrics) RecordStoreError(ctx context.Context, call CallMeta, op string) {
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(AttrAPI.String(call.API), AttrOp.String(op)))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordCall(context.Context, CallMeta, string, time.Duration, error) {}
func (noopMetrics) RecordStoreError(context.Context, CallMeta, string)               {}
