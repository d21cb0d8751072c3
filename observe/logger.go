package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging is best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// WithCall returns a logger that stamps every entry with the call's
	// function identity.
	WithCall(call CallMeta) Logger

	// With returns a logger that stamps every entry with fields.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a level name. Unknown names yield LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	level LogLevel
	out   *lockedWriter
	base  map[string]any
	now   func() time.Time
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogger returns a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &jsonLogger{
		level: ParseLogLevel(level),
		out:   &lockedWriter{w: w},
		base:  map[string]any{},
		now:   time.Now,
	}
}

func (l *jsonLogger) derive(extra map[string]any) *jsonLogger {
	base := make(map[string]any, len(l.base)+len(extra))
	for k, v := range l.base {
		base[k] = v
	}
	for k, v := range extra {
		base[k] = redact(k, v)
	}
	return &jsonLogger{level: l.level, out: l.out, base: base, now: l.now}
}

func (l *jsonLogger) WithCall(call CallMeta) Logger {
	extra := map[string]any{"api": call.API}
	if len(call.Segments) > 0 {
		extra["segments"] = call.Segments
	}
	return l.derive(extra)
}

func (l *jsonLogger) With(fields ...Field) Logger {
	extra := make(map[string]any, len(fields))
	for _, f := range fields {
		extra[f.Key] = f.Value
	}
	return l.derive(extra)
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelError, msg, fields)
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields)
}

func (l *jsonLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.base)+len(fields)+3)
	for k, v := range l.base {
		entry[k] = v
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && err != nil {
			entry[f.Key] = redact(f.Key, err.Error())
			continue
		}
		entry[f.Key] = redact(f.Key, f.Value)
	}
	entry["timestamp"] = l.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = l.out.w.Write(data)
}

func redact(key string, v any) any {
	if contains(RedactedFields, key) {
		return "[REDACTED]"
	}
	return v
}

type noopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (n noopLogger) WithCall(CallMeta) Logger              { return n }
func (n noopLogger) With(...Field) Logger                  { return n }

var (
	_ Logger = (*jsonLogger)(nil)
	_ Logger = noopLogger{}
)
