package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "merger")

	logger.Info("processing MR #%d", 5)

	line := buf.String()
	if !strings.Contains(line, "[merger] INFO: processing MR #5") {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestLogger_DebugGated(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "watcher")

	prev := IsDebugEnabled()
	defer SetDebug(prev)

	SetDebug(false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output while disabled: %q", buf.String())
	}

	SetDebug(true)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "DEBUG: shown") {
		t.Errorf("expected debug output, got %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "batch").With("mr-12")

	if logger.Component() != "batch/mr-12" {
		t.Errorf("Component() = %q", logger.Component())
	}
	logger.Warn("slow pipeline")
	if !strings.Contains(buf.String(), "[batch/mr-12] WARN: slow pipeline") {
		t.Errorf("unexpected log line: %q", buf.String())
	}
}

func TestConsole_PlainWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsoleTo(&buf)

	console.Success("└ merged")
	console.Failure("└ timed out waiting for pipeline %d", 9)
	console.Neutral("└ rebasing...")

	want := "└ merged\n└ timed out waiting for pipeline 9\n└ rebasing...\n"
	if buf.String() != want {
		t.Errorf("console output = %q, want %q", buf.String(), want)
	}
}
