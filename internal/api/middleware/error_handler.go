package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// httpErrorCode is reported for fiber's own errors (404, 405, body limit)
const httpErrorCode = "HTTP_ERROR"

// resolvedError is what the client sees for an error
type resolvedError struct {
	status  int
	code    string
	message string
	cause   error
	known   bool
}

func resolveError(err error) resolvedError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return resolvedError{status: fiberErr.Code, code: httpErrorCode, message: fiberErr.Message, known: true}
	}

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return resolvedError{status: appErr.StatusCode, code: appErr.Code, message: appErr.Message, cause: appErr.Err, known: true}
	}

	return resolvedError{
		status:  domain.ErrInternal.StatusCode,
		code:    domain.ErrInternal.Code,
		message: domain.ErrInternal.Message,
		cause:   err,
	}
}

// writeError renders the {"error":{code,message},"request_id"} body
func writeError(c *fiber.Ctx, e resolvedError) error {
	return c.Status(e.status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    e.code,
			"message": e.message,
		},
		"request_id": RequestID(c),
	})
}

func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		e := resolveError(err)

		switch {
		case !e.known:
			logger.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Path()),
				slog.String("request_id", RequestID(c)),
			)
		case e.status >= fiber.StatusInternalServerError:
			logger.Error("internal error",
				slog.String("code", e.code),
				slog.String("message", e.message),
				slog.String("request_id", RequestID(c)),
				slog.Any("error", e.cause),
			)
		}

		return writeError(c, e)
	}
}
