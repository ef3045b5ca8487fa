package config

import (
	"io"
	"log/slog"
	"os"
)

// LoggerOptions overrides NewLogger defaults. Zero values keep the
// environment's defaults.
type LoggerOptions struct {
	Output io.Writer
	Level  slog.Leveler
}

// NewLogger logs JSON at info in production and text at debug elsewhere
func NewLogger(env string) *slog.Logger {
	return NewLoggerWithOptions(env, LoggerOptions{})
}

func NewLoggerWithOptions(env string, o LoggerOptions) *slog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		AddSource: env == "development",
		Level:     o.Level,
	}

	var handler slog.Handler
	if env == "production" {
		if opts.Level == nil {
			opts.Level = slog.LevelInfo
		}
		handler = slog.NewJSONHandler(out, opts)
	} else {
		if opts.Level == nil {
			opts.Level = slog.LevelDebug
		}
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With(slog.String("service", "hookgate"))
}
