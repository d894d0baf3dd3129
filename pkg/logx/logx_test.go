package logx

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

// bufferLogger builds a Logger that writes into a buffer for assertions.
func bufferLogger(component string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{
		component: component,
		logger:    log.New(&buf, "", 0),
	}, &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("orchestrator")

	if logger.Component() != "orchestrator" {
		t.Errorf("Expected component 'orchestrator', got '%s'", logger.Component())
	}
}

func TestLogFormat(t *testing.T) {
	logger, buf := bufferLogger("architect")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, "[architect]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	SetDebug(false)
	defer SetDebug(false)

	logger, buf := bufferLogger("coder")
	logger.Debug("hidden message")

	if buf.Len() != 0 {
		t.Errorf("Expected no debug output when disabled, got: %s", buf.String())
	}

	SetDebug(true)
	logger.Debug("visible message")

	if !strings.Contains(buf.String(), "visible message") {
		t.Errorf("Expected debug output when enabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true)
	SetDebugDomains([]string{"tester"})
	defer func() {
		SetDebug(false)
		SetDebugDomains(nil)
	}()

	testerLogger, testerBuf := bufferLogger("tester")
	coderLogger, coderBuf := bufferLogger("coder")

	testerLogger.Debug("tester debug")
	coderLogger.Debug("coder debug")

	if !strings.Contains(testerBuf.String(), "tester debug") {
		t.Errorf("Expected tester debug to pass the domain filter, got: %s", testerBuf.String())
	}
	if coderBuf.Len() != 0 {
		t.Errorf("Expected coder debug to be filtered out, got: %s", coderBuf.String())
	}
}

func TestWithComponent(t *testing.T) {
	logger, buf := bufferLogger("debugger")
	sub := logger.WithComponent("debugger.attempt1")

	sub.Info("attempt started")

	if !strings.Contains(buf.String(), "[debugger.attempt1]") {
		t.Errorf("Expected derived component tag in output, got: %s", buf.String())
	}
}

func TestRecentEntriesFilter(t *testing.T) {
	logger, _ := bufferLogger("sandbox")
	logger.Info("first entry")
	logger.Info("second entry")

	entries := RecentEntries("sandbox", time.Time{})
	if len(entries) < 2 {
		t.Fatalf("Expected at least 2 buffered entries, got %d", len(entries))
	}

	last := entries[len(entries)-1]
	if last.Component != "sandbox" {
		t.Errorf("Expected component 'sandbox', got '%s'", last.Component)
	}
	if last.Message != "second entry" {
		t.Errorf("Expected most recent message 'second entry', got '%s'", last.Message)
	}
	if last.Level != string(LevelInfo) {
		t.Errorf("Expected level INFO, got '%s'", last.Level)
	}

	none := RecentEntries("no-such-component", time.Time{})
	for i := range none {
		if strings.EqualFold(none[i].Component, "sandbox") {
			t.Errorf("Filter leaked entry from another component: %+v", none[i])
		}
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Expected nil from Wrap(nil), got: %v", err)
	}
}

func TestWrapAndErrorf(t *testing.T) {
	base := Errorf("base failure %d", 42)
	if base == nil || !strings.Contains(base.Error(), "base failure 42") {
		t.Fatalf("Errorf returned unexpected error: %v", base)
	}

	wrapped := Wrap(base, "while running")
	if wrapped == nil || !strings.Contains(wrapped.Error(), "while running: base failure 42") {
		t.Errorf("Wrap returned unexpected error: %v", wrapped)
	}
}
