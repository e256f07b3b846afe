// Package log provides the structured logger used by the replay engine:
// the ledger client, both VM adapters and the engine itself hold a Logger
// rather than calling fmt.Println, with contract_id/tx_id/height carried
// as context. The contract loader and the state cache do not log.
package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Logger is the logging interface used throughout this module. It is
// implemented by *logger, a thin wrapper around slog.Logger that adds the
// Trace and Crit levels.
type Logger interface {
	With(ctx ...any) Logger
	New(ctx ...any) Logger

	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)

	Enabled(ctx context.Context, level Level) bool
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps an slog.Handler in a Logger.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

// write builds the record itself so its PC is the caller of Trace/Debug/...
// rather than this file, which is what GlogHandler's vmodule patterns match.
func (l *logger) write(level Level, msg string, ctx ...any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip runtime.Callers, write and the level method
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(ctx...)
	_ = l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) With(ctx ...any) Logger { return l.New(ctx...) }
func (l *logger) New(ctx ...any) Logger  { return &logger{inner: l.inner.With(ctx...)} }

func (l *logger) Trace(msg string, ctx ...any) { l.write(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.write(LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.write(LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.write(LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.write(LevelError, msg, ctx...) }
func (l *logger) Crit(msg string, ctx ...any)  { l.write(LevelCrit, msg, ctx...) }

func (l *logger) Enabled(ctx context.Context, level Level) bool {
	return l.inner.Handler().Enabled(ctx, level)
}
func (l *logger) Handler() slog.Handler { return l.inner.Handler() }

// New returns a child of the root logger with ctx bound, mirroring the
// convenience constructor go-ethereum exposes off the package for callers
// that don't care about handler wiring.
func New(ctx ...any) Logger {
	return Root().New(ctx...)
}
