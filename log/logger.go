// Package log provides module-scoped, leveled, structured logging built
// on top of log/slog; the terminal/logfmt handlers live in handler.go.
package log

import (
	"context"
	"log/slog"
	"os"
)

// Level extends slog.Level with Trace below Debug and Crit above Error.
type Level = slog.Level

const (
	LevelCrit  Level = slog.Level(12)
	LevelError Level = slog.LevelError
	LevelWarn  Level = slog.LevelWarn
	LevelInfo  Level = slog.LevelInfo
	LevelDebug Level = slog.LevelDebug
	LevelTrace Level = slog.Level(-8)
)

// Logger is the interface every axledger package logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps an slog.Handler as a Logger.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) write(level Level, msg string, ctx []interface{}) {
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LevelCrit, msg, ctx)
}

func (l *logger) New(ctx ...interface{}) Logger {
	attrs := make([]any, 0, len(ctx))
	attrs = append(attrs, ctx...)
	return &logger{inner: slog.New(l.inner.Handler()).With(attrs...)}
}

// Module identifiers: every package gets its own short, stable tag.
const (
	ModuleCommon    = "common"
	ModuleStorage   = "storage"
	ModuleState     = "state"
	ModuleChain     = "blockchain"
	ModuleTxPool    = "txpool"
	ModuleMiner     = "miner"
	ModuleConsensus = "consensus"
	ModuleP2P       = "p2p"
	ModuleAPI       = "api"
	ModuleNode      = "node"
	ModuleCmd       = "cmd"
)

var root = NewLogger(NewTerminalHandlerWithLevel(os.Stderr, LevelInfo, true))

// Root returns the default logger new module loggers fork from.
func Root() Logger { return root }

// SetDefault replaces the root logger.
func SetDefault(l Logger) { root = l }

// NewModuleLogger returns a Logger tagged with the given module name,
// forked from Root(). This is the primary entry point used across the
// codebase, used as a `var logger = log.NewModuleLogger(...)`
// package-level declaration.
func NewModuleLogger(module string) Logger {
	return root.New("module", module)
}

// New forks a Logger off Root() with the given context (e.g. a per-file
// logger tagged with its path).
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// Package-level convenience functions logging through Root(), used by
// early-bootstrap code (e.g. cmd/axl startup) before a module
// logger is constructed.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
