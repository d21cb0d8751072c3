package exporters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
)

func TestUnknownExporter(t *testing.T) {
	if _, err := NewTracingExporter(context.Background(), "zipkin"); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("NewTracingExporter(zipkin) error = %v, want ErrUnknownExporter", err)
	}
	if _, err := NewMetricsReader(context.Background(), "statsd"); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("NewMetricsReader(statsd) error = %v, want ErrUnknownExporter", err)
	}
}

func TestOTLPRequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	if _, err := NewTracingExporter(context.Background(), "otlp"); !errors.Is(err, ErrEndpointNotConfigured) {
		t.Errorf("tracing otlp error = %v", err)
	}
	if _, err := NewMetricsReader(context.Background(), "otlp"); !errors.Is(err, ErrEndpointNotConfigured) {
		t.Errorf("metrics otlp error = %v", err)
	}
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	for _, name := range []string{"stdout", "none", ""} {
		exp, err := NewTracingExporter(ctx, name, WithWriter(&buf))
		if err != nil || exp == nil {
			t.Errorf("NewTracingExporter(%q) = %v, %v", name, exp, err)
		}
		reader, err := NewMetricsReader(ctx, name, WithWriter(&buf))
		if err != nil || reader == nil {
			t.Errorf("NewMetricsReader(%q) = %v, %v", name, reader, err)
		}
	}
}

func TestPrometheusUsesRegisterer(t *testing.T) {
	reg := promclient.NewRegistry()
	reader, err := NewMetricsReader(context.Background(), "prometheus", WithRegisterer(reg))
	if err != nil || reader == nil {
		t.Fatalf("NewMetricsReader(prometheus) = %v, %v", reader, err)
	}
}
