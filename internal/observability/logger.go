package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerConfig selects the handler format and minimum level.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// NewLogger builds the service logger from configuration. Unknown levels
// fall back to info, unknown formats to JSON.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg LoggerConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
