package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config selects where and how the worker logs.
// Output must not be the stdio transport's stdout.
type Config struct {
	Level   slog.Level
	JSON    bool
	NoColor bool
	Output  io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Output: os.Stderr,
	}
}

func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level}))
	}

	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      cfg.Level,
		TimeFormat: time.TimeOnly,
		NoColor:    cfg.NoColor,
	}))
}

// ParseLevel accepts debug, info, warn(ing) and error; anything else is info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Discard is used by tests and by components built without a logger
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
