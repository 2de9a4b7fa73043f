package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/warden/internal/errors"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: FormatJSON, Output: &buf}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["msg"] != "warn message" {
		t.Errorf("unexpected first message %v", lines[0]["msg"])
	}
}

func TestServiceNameAttached(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf, ServiceName: "warden"})

	logger.Info("hello")

	lines := decodeLines(t, &buf)
	if lines[0]["service"] != "warden" {
		t.Errorf("expected service attribute, got %v", lines[0])
	}
}

func TestWithErrorWardenError(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	err := errors.NewTimeoutError("sleep 100", 30*time.Second).WithStep("wait").WithHost("web-1")
	logger.WithError(fmt.Errorf("step failed: %w", err)).Warn("attempt failed")

	lines := decodeLines(t, buf)
	got := lines[0]
	if got["error_kind"] != "timeout" {
		t.Errorf("expected error_kind timeout, got %v", got["error_kind"])
	}
	if got["error_code"] != "TIMEOUT-001" {
		t.Errorf("expected error_code TIMEOUT-001, got %v", got["error_code"])
	}
	if got["step"] != "wait" || got["host"] != "web-1" {
		t.Errorf("expected step and host attributes, got %v", got)
	}
	if _, ok := got["suggestions"]; !ok {
		t.Error("expected suggestions attribute")
	}
}

func TestWithErrorPlain(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	logger.WithError(fmt.Errorf("plain failure")).Info("something")

	lines := decodeLines(t, buf)
	if lines[0]["error"] != "plain failure" {
		t.Errorf("expected plain error attribute, got %v", lines[0])
	}
	if _, ok := lines[0]["error_kind"]; ok {
		t.Error("plain errors should not carry error_kind")
	}
}

func TestWithErrorNil(t *testing.T) {
	logger, _ := newBufferLogger(LevelInfo)
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogErrorContext(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	logger.LogErrorContext(context.Background(), "run failed", errors.NewRejectedError("rm -rf /", "declined"))
	logger.LogErrorContext(context.Background(), "ignored", nil)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["error_code"] != "GATE-001" {
		t.Errorf("expected GATE-001, got %v", lines[0]["error_code"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	logger.Info("spawned", "pid", 42)

	if !strings.Contains(buf.String(), "msg=spawned") || !strings.Contains(buf.String(), "pid=42") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing")
	if logger.Enabled(context.Background(), LevelWarn) {
		t.Error("discard logger should not be enabled below error")
	}
}

func TestWithGroup(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	logger.WithGroup("exec").Info("spawn", "pid", 7)

	lines := decodeLines(t, buf)
	group, ok := lines[0]["exec"].(map[string]any)
	if !ok {
		t.Fatalf("expected exec group, got %v", lines[0])
	}
	if group["pid"] != float64(7) {
		t.Errorf("expected pid 7, got %v", group["pid"])
	}
}
