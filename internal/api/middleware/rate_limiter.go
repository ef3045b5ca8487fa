package middleware

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

// AdminRateLimitSource is the bucket source for operator API traffic
const AdminRateLimitSource = "admin"

// Admitter consumes one token from a bucket
type Admitter interface {
	Admit(ctx context.Context, source, key string) (ratelimit.Decision, error)
}

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	// Source is the bucket source the requests draw from
	Source string
	// KeyGenerator picks the bucket key, by default the operator subject
	KeyGenerator func(c *fiber.Ctx) string
	Logger       *slog.Logger
}

// DefaultRateLimiterConfig keys operator traffic by token subject
func DefaultRateLimiterConfig(logger *slog.Logger) RateLimiterConfig {
	return RateLimiterConfig{
		Source: AdminRateLimitSource,
		KeyGenerator: func(c *fiber.Ctx) string {
			if subject := Operator(c); subject != "" {
				return subject
			}
			return c.IP()
		},
		Logger: logger,
	}
}

// RateLimit throttles requests through the shared token buckets. A store
// failure lets the request through.
func RateLimit(limiter Admitter, config RateLimiterConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := config.KeyGenerator(c)
		decision, err := limiter.Admit(c.UserContext(), config.Source, key)
		if err != nil {
			config.Logger.Warn("rate limit check failed", "source", config.Source, "key", key, "error", err)
			return c.Next()
		}

		SetRateLimitHeaders(c, decision)
		if !decision.Allowed {
			return domain.ErrRateLimitExceeded
		}

		return c.Next()
	}
}

// SetRateLimitHeaders writes X-RateLimit-* and, on rejection, Retry-After
func SetRateLimitHeaders(c *fiber.Ctx, d ratelimit.Decision) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Capacity))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(d.Remaining))))
	if !d.Allowed {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds(d)))
	}
}

// RetryAfterSeconds rounds the wait up to whole seconds, at least one
func RetryAfterSeconds(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
