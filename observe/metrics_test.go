package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if len(attrs) == 0 || dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_CallsByOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	call := CallMeta{API: "f"}

	m.RecordCall(ctx, call, "hit", time.Millisecond, nil)
	m.RecordCall(ctx, call, "hit", time.Millisecond, nil)
	m.RecordCall(ctx, call, "miss", 3*time.Millisecond, nil)
	m.RecordCall(ctx, call, "miss", time.Millisecond, errors.New("upstream"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, MetricCallTotal, AttrAPI.String("f"), AttrOutcome.String("hit")); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sumFor(t, rm, MetricCallTotal, AttrAPI.String("f"), AttrOutcome.String("miss")); got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}
	if got := sumFor(t, rm, MetricCallErrors); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}

	hist := findMetric(rm, MetricCallDuration)
	if hist == nil {
		t.Fatal("duration histogram missing")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(h.DataPoints) != 1 || h.DataPoints[0].Count != 4 {
		t.Errorf("histogram = %+v", hist.Data)
	}
}

func TestMetrics_StoreErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStoreError(context.Background(), CallMeta{API: "f"}, "meta.get")

	rm := collect(t, reader)
	if got := sumFor(t, rm, MetricStoreErrors, AttrAPI.String("f"), AttrOp.String("meta.get")); got != 1 {
		t.Errorf("store errors = %d, want 1", got)
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	m.RecordCall(context.Background(), CallMeta{}, "hit", 0, nil)
	m.RecordStoreError(context.Background(), CallMeta{}, "x")
}
