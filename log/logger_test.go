package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalHandlerWritesMessageAndAttrs(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandlerWithLevel(out, LevelTrace, false))
	l.Info("hello world", "foo", "bar")

	have := out.String()
	if !strings.Contains(have, "hello world") {
		t.Fatalf("expected message in output, got %q", have)
	}
	if !strings.Contains(have, "foo=bar") {
		t.Fatalf("expected attr in output, got %q", have)
	}
}

func TestLevelFiltering(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(NewTerminalHandlerWithLevel(out, LevelWarn, false))
	l.Info("should not appear")
	if out.Len() != 0 {
		t.Fatalf("expected info to be filtered out, got %q", out.String())
	}
	l.Warn("should appear")
	if out.Len() == 0 {
		t.Fatalf("expected warn to pass the filter")
	}
}

func TestNewModuleLoggerTagsModule(t *testing.T) {
	out := new(bytes.Buffer)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(out, LevelTrace, false)))
	defer SetDefault(NewLogger(NewTerminalHandlerWithLevel(out, LevelTrace, false)))

	l := NewModuleLogger(ModuleChain)
	l.Info("committed block")

	if !strings.Contains(out.String(), "module=blockchain") {
		t.Fatalf("expected module attr, got %q", out.String())
	}
}
