package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Logger writes one line per request. Probe and metrics scrapes log at
// debug so they do not drown delivery traffic.
func Logger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := statusOf(c, err)
		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		case isProbe(c.Path()):
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("request_id", RequestID(c)),
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if source := c.Params("source"); source != "" {
			attrs = append(attrs, slog.String("source", source))
		}
		if operator := Operator(c); operator != "" {
			attrs = append(attrs, slog.String("operator", operator))
		}

		logger.LogAttrs(c.UserContext(), level, "http request", attrs...)

		return err
	}
}

func isProbe(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/swagger")
}
