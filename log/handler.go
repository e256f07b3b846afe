package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const termTimeFormat = "2006-01-02|15:04:05.000"

// NewTerminalHandler returns a handler that prints human-readable,
// column-aligned log lines, the format used on an operator's terminal.
func NewTerminalHandler(wr io.Writer, useColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(wr, LevelTrace, useColor)
}

// NewTerminalHandlerWithLevel is NewTerminalHandler with an explicit
// minimum level instead of LevelTrace.
func NewTerminalHandlerWithLevel(wr io.Writer, level Level, useColor bool) slog.Handler {
	return &terminalHandler{wr: wr, level: level, useColor: useColor}
}

type terminalHandler struct {
	wr       io.Writer
	level    Level
	useColor bool
	attrs    []slog.Attr
	mu       sync.Mutex
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %-40s", LevelString(r.Level), r.Time.Format(termTimeFormat), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, formatValue(a.Value))
		return true
	})
	b.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.wr, b.String())
	return err
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"") {
			return fmt.Sprintf("%q", s)
		}
		return s
	default:
		return fmt.Sprint(v.Any())
	}
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler { return h }

// JSONHandler returns a handler emitting one JSON object per log record.
func JSONHandler(wr io.Writer) slog.Handler {
	return JSONHandlerWithLevel(wr, LevelTrace)
}

// JSONHandlerWithLevel is JSONHandler with an explicit minimum level.
func JSONHandlerWithLevel(wr io.Writer, level Level) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Value = slog.StringValue(LevelString(a.Value.Any().(slog.Level)))
			}
			return a
		},
	})
}

// LogfmtHandler returns a handler emitting logfmt (key=value) lines.
func LogfmtHandler(wr io.Writer) slog.Handler {
	return slog.NewTextHandler(wr, &slog.HandlerOptions{Level: LevelTrace})
}

// GlogHandler wraps another handler with a dynamic, glob-pattern verbosity
// filter keyed by source file name (the "vmodule" flag geth exposes), on
// top of a single global verbosity floor.
type GlogHandler struct {
	inner slog.Handler

	mu        sync.RWMutex
	verbosity Level
	patterns  []vmodulePattern
}

type vmodulePattern struct {
	pattern string
	level   Level
}

// NewGlogHandler wraps inner with dynamic verbosity control.
func NewGlogHandler(inner slog.Handler) *GlogHandler {
	return &GlogHandler{inner: inner, verbosity: LevelInfo}
}

// Verbosity sets the global floor: records below it are dropped unless a
// vmodule pattern raises the floor for their source file.
func (g *GlogHandler) Verbosity(level Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verbosity = level
}

// Vmodule sets file-pattern verbosity overrides, e.g. "engine.go=5,jsvm.go=4".
// Patterns are matched against the base name of the logging call's source
// file. A higher number means more verbose: v maps onto LevelCrit - 4*v,
// the same scale as the CLI's --verbosity flag (5 = trace).
func (g *GlogHandler) Vmodule(spec string) error {
	var patterns []vmodulePattern
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid vmodule term %q", part)
		}
		var v int
		if _, err := fmt.Sscanf(kv[1], "%d", &v); err != nil {
			return fmt.Errorf("invalid vmodule level in %q: %w", part, err)
		}
		patterns = append(patterns, vmodulePattern{pattern: kv[0], level: LevelCrit - 4*Level(v)})
	}
	g.mu.Lock()
	g.patterns = patterns
	g.mu.Unlock()
	return nil
}

func (g *GlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // the floor is evaluated per-record in Handle, where the source file is known.
}

func (g *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	g.mu.RLock()
	floor := g.verbosity
	patterns := g.patterns
	g.mu.RUnlock()

	if len(patterns) > 0 {
		if file := callerFile(r.PC); file != "" {
			for _, p := range patterns {
				if ok, _ := filepath.Match(p.pattern, file); ok {
					floor = p.level
					break
				}
			}
		}
	}
	if r.Level < floor {
		return nil
	}
	return g.inner.Handle(ctx, r)
}

func callerFile(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File)
}

func (g *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *g
	cp.inner = g.inner.WithAttrs(attrs)
	return &cp
}

func (g *GlogHandler) WithGroup(name string) slog.Handler {
	cp := *g
	cp.inner = g.inner.WithGroup(name)
	return &cp
}

func writeTimeTermFormat(wr io.Writer, t time.Time) {
	io.WriteString(wr, t.Format(termTimeFormat))
}
