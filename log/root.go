package log

import (
	"os"
	"sync/atomic"
)

var root atomic.Value

func init() {
	root.Store(&rootLogger{Logger: NewLogger(NewGlogHandler(NewTerminalHandler(os.Stderr, false)))})
}

type rootLogger struct {
	Logger
}

// Root returns the default logger.
func Root() Logger {
	return root.Load().(*rootLogger).Logger
}

// SetDefault sets l as the default logger returned by Root and used by
// the package-level Trace/Debug/Info/Warn/Error/Crit functions.
func SetDefault(l Logger) {
	root.Store(&rootLogger{Logger: l})
}

func Trace(msg string, ctx ...any) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { Root().Crit(msg, ctx...) }
