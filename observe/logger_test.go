package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v\n%s", err, line)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_WithCallStampsAPI(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithCall(CallMeta{API: "quotes.Prices", Segments: []string{"src"}})
	logger.Info(context.Background(), "hello", Field{Key: "outcome", Value: "hit"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	e := lines[0]
	if e["api"] != "quotes.Prices" || e["outcome"] != "hit" || e["msg"] != "hello" || e["level"] != "info" {
		t.Errorf("unexpected entry: %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"error", 1},
		{"bogus", 3},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLoggerWithWriter(tt.level, &buf)
			ctx := context.Background()
			l.Debug(ctx, "d")
			l.Info(ctx, "i")
			l.Warn(ctx, "w")
			l.Error(ctx, "e")
			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Errorf("level %q wrote %d lines, want %d", tt.level, got, tt.want)
			}
		})
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("info", &buf).With(Field{Key: "secret", Value: "s3cr3t"})
	l.Info(context.Background(), "auth",
		Field{Key: "token", Value: "abc"},
		Field{Key: "api_key", Value: "k"},
		Field{Key: "segment", Value: "src"},
	)
	out := buf.String()
	for _, leaked := range []string{"s3cr3t", "abc", `"k"`} {
		if strings.Contains(out, leaked) {
			t.Errorf("output leaked %s: %s", leaked, out)
		}
	}
	if !strings.Contains(out, `"segment":"src"`) {
		t.Errorf("non-sensitive field missing: %s", out)
	}
}

func TestLogger_ErrorValuesAreStrings(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Error(context.Background(), "boom", Field{Key: "error", Value: errors.New("disk full")})
	e := decodeLines(t, &buf)[0]
	if e["error"] != "disk full" {
		t.Errorf("error field = %v", e["error"])
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		if got := ParseLogLevel(name).String(); got != name {
			t.Errorf("ParseLogLevel(%q).String() = %q", name, got)
		}
	}
	for _, name := range []string{"", "WARN", "trace"} {
		if ParseLogLevel(name) != LevelInfo {
			t.Errorf("ParseLogLevel(%q) should default to info", name)
		}
	}
	if got := LogLevel(-1).String(); got != "info" {
		t.Errorf("LogLevel(-1).String() = %q, want info", got)
	}
	if got := LogLevel(9).String(); got != "info" {
		t.Errorf("LogLevel(9).String() = %q, want info", got)
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "x")
	if l.WithCall(CallMeta{API: "f"}) == nil || l.With() == nil {
		t.Fatal("derived nop loggers must be non-nil")
	}
}
