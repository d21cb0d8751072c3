// Package observe provides the tracing, metrics and logging primitives used
// around memoized calls.
//
// An Observer owns the OpenTelemetry providers. Middleware wraps one cached
// call with a span, call metrics and a structured log line. Loggers emit JSON
// and redact credential-like fields.
package observe
