package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func init() {
	// Default to INFO level
	InitLogger("info")
}

// ParseLevel maps a configured level name to a slog level, INFO when unknown
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global text logger on stderr with the specified level
func InitLogger(level string) {
	InitLoggerWithFormat(level, "text", os.Stderr)
}

// InitLoggerWithFormat initializes the global logger; format is "text" or "json"
func InitLoggerWithFormat(level string, format string, w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
