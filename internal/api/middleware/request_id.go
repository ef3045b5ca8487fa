package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/idgen"
)

// LocalRequestID is where requestid stores the id
const LocalRequestID = "requestid"

// LocalUpstreamRequestID holds the id the caller sent, if any
const LocalUpstreamRequestID = "upstream_request_id"

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

// RequestIDs assigns each request a locally generated nanoid request id.
// A caller-supplied X-Request-Id is kept as the upstream id for correlation
// and never becomes the request id.
func RequestIDs() fiber.Handler {
	assign := requestid.New(requestid.Config{
		Header:     RequestIDHeader,
		Generator:  idgen.RequestID,
		ContextKey: LocalRequestID,
	})

	return func(c *fiber.Ctx) error {
		if upstream := c.Get(RequestIDHeader); upstream != "" {
			c.Locals(LocalUpstreamRequestID, strings.Clone(upstream))
			c.Request().Header.Del(RequestIDHeader)
		}
		return assign(c)
	}
}

// RequestID returns the id assigned by RequestIDs, or "" outside it
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRequestID).(string)
	return id
}

// UpstreamRequestID returns the X-Request-Id the caller sent, or ""
func UpstreamRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUpstreamRequestID).(string)
	return id
}
