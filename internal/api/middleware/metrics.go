package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPRecorder receives per-request metrics
type HTTPRecorder interface {
	ObserveHTTP(route, method string, status int, d time.Duration)
}

// Metrics records request counts and latency by route template, so
// /v1/webhooks/:source stays one series regardless of the source.
func Metrics(rec HTTPRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		rec.ObserveHTTP(c.Route().Path, c.Method(), statusOf(c, err), time.Since(start))
		return err
	}
}

// statusOf predicts the status ErrorHandler will write for err
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	return resolveError(err).status
}
