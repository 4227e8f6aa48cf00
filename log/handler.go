package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	colorable "github.com/mattn/go-colorable"
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelCrit:  "CRIT",
}

var levelColors = map[Level]*color.Color{
	LevelTrace: color.New(color.FgWhite),
	LevelDebug: color.New(color.FgBlue),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
	LevelCrit:  color.New(color.FgMagenta, color.Bold),
}

// terminalHandler renders records the way a developer tails a node's
// stdout: "LVL [timestamp] msg  key=val key=val", optionally colorized,
// with the immediate call site attached at Trace/Debug level. Handlers
// derived via WithAttrs share one sink so concurrent writers still
// serialize on the same mutex.
type terminalHandler struct {
	sink  *terminalSink
	attrs []slog.Attr
}

type terminalSink struct {
	mu       sync.Mutex
	out      io.Writer
	minLvl   Level
	useColor bool
}

// NewTerminalHandler renders colorized, human-readable log lines to w.
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(w, LevelInfo, useColor)
}

// NewTerminalHandlerWithLevel is NewTerminalHandler with an explicit
// minimum level filter. Color is only attempted when w is an *os.File
// (colorable.NewColorable needs a real file descriptor on Windows; on
// other platforms it degrades to a no-op wrapper); any other writer
// (a file handler, a bytes.Buffer in tests) gets plain ANSI codes
// suppressed entirely by useColor=false.
func NewTerminalHandlerWithLevel(w io.Writer, minLvl Level, useColor bool) slog.Handler {
	if useColor {
		if f, ok := w.(*os.File); ok {
			w = colorable.NewColorable(f)
		} else {
			useColor = false
		}
	}
	return &terminalHandler{sink: &terminalSink{out: w, minLvl: minLvl, useColor: useColor}}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.sink.minLvl
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	lvl := levelNames[r.Level]
	if lvl == "" {
		lvl = r.Level.String()
	}
	ts := time.Now().Format("01-02|15:04:05.000")

	line := fmt.Sprintf("%-5s[%s] %s", lvl, ts, r.Message)
	if h.sink.useColor {
		if c, ok := levelColors[r.Level]; ok {
			line = c.Sprintf("%-5s", lvl) + fmt.Sprintf("[%s] %s", ts, r.Message)
		}
	}

	for _, a := range h.attrs {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})

	if r.Level <= LevelDebug {
		call := stack.Caller(5)
		line += fmt.Sprintf(" caller=%+v", call)
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	_, err := fmt.Fprintln(h.sink.out, line)
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &terminalHandler{sink: h.sink, attrs: merged}
}

// WithGroup is accepted but flattens the group: nested key prefixes add
// nothing to a single-process node log.
func (h *terminalHandler) WithGroup(name string) slog.Handler { return h }

// LogfmtHandler renders key=value lines without color, used for file
// output where a colorized terminal handler would embed escape codes.
func LogfmtHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

// JSONHandler renders newline-delimited JSON, used by operators shipping
// logs to a collector.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}
