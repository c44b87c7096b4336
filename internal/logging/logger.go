package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewJSONHandler is the stdout handler every process logs through.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup installs the JSON stdout logger as the slog default, fanned out to
// any extra handlers (e.g. the system_logs sink once the DB is up).
func Setup(level string, extra ...slog.Handler) *slog.Logger {
	var handler slog.Handler = NewJSONHandler(os.Stdout, ParseLevel(level))
	if len(extra) > 0 {
		handler = NewMultiHandler(append([]slog.Handler{handler}, extra...)...)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
