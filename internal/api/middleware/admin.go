package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

const (
	// LocalOperator is the key to retrieve the operator subject from context
	LocalOperator = "operator"
	// LocalOperatorRole is the key to retrieve the operator role from context
	LocalOperatorRole = "operator_role"
)

// TokenValidator parses operator bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*admin.OperatorClaims, error)
}

// OperatorAuthDependencies contains dependencies for operator authentication
type OperatorAuthDependencies struct {
	Tokens TokenValidator
	Logger *slog.Logger
}

// OperatorAuth requires a bearer JWT whose role allows required
func OperatorAuth(required admin.Role, deps OperatorAuthDependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			deps.Logger.Debug("missing authorization header for operator")
			return domain.ErrUnauthorized
		}

		claims, err := deps.Tokens.ValidateToken(token)
		if err != nil {
			deps.Logger.Warn("invalid JWT token", "error", err, "ip", c.IP())
			return domain.ErrUnauthorized
		}

		if !claims.Role.Allows(required) {
			deps.Logger.Warn("insufficient privileges",
				"subject", claims.Subject,
				"role", claims.Role,
				"required", required,
			)
			return domain.ErrForbidden
		}

		c.Locals(LocalOperator, claims.Subject)
		c.Locals(LocalOperatorRole, claims.Role)

		return c.Next()
	}
}

// RequireRole narrows a group already behind OperatorAuth to a higher role
func RequireRole(required admin.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals(LocalOperatorRole).(admin.Role)
		if !ok {
			return domain.ErrUnauthorized
		}
		if !role.Allows(required) {
			return domain.ErrForbidden
		}
		return c.Next()
	}
}

// Operator retrieves the authenticated operator subject from context
func Operator(c *fiber.Ctx) string {
	subject, _ := c.Locals(LocalOperator).(string)
	return subject
}

// extractBearerToken returns the token of an "Authorization: Bearer" header.
// Browsers cannot set headers on websocket upgrades, so ?access_token= is
// accepted there too.
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if auth != "" {
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
		return ""
	}
	return c.Query("access_token")
}
