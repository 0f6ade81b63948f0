package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Init replaces the global logger. When path is set, records are appended to
// that file; otherwise they go to fallback (stdout when nil).
func Init(level, path string, fallback io.Writer) error {
	SetLevel(level)
	if fallback == nil {
		fallback = os.Stdout
	}
	out := fallback
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			L = slog.New(slog.NewJSONHandler(fallback, &slog.HandlerOptions{Level: levelVar}))
			return fmt.Errorf("open log file %s: %w", path, err)
		}
		out = f
	}
	L = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: levelVar}))
	return nil
}
