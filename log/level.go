package log

import "log/slog"

// Level mirrors slog.Level but adds the two extra levels go-ethereum's
// logger has historically exposed: Trace (below Debug) and Crit (above
// Error).
type Level = slog.Level

const (
	LevelTrace Level = slog.Level(-8)
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelCrit  Level = slog.Level(12)
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelCrit:  "CRIT",
}

// LevelString renders a level the way the terminal handler does.
func LevelString(l Level) string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return l.String()
}
