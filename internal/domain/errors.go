package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so wrapped copies compare equal to the predefined values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing operator token",
		StatusCode: 401,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		StatusCode: 403,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}

	// Webhook admission errors
	ErrThrottled = &AppError{
		Code:       "THROTTLED",
		Message:    "Webhook source is sending too fast, retry later",
		StatusCode: 429,
	}

	ErrReplayRejected = &AppError{
		Code:       "REPLAY_REJECTED",
		Message:    "Webhook timestamp is outside the accepted window",
		StatusCode: 401,
	}

	ErrInvalidSignature = &AppError{
		Code:       "INVALID_SIGNATURE",
		Message:    "Webhook signature is missing or invalid",
		StatusCode: 401,
	}

	ErrInFlight = &AppError{
		Code:       "IN_FLIGHT",
		Message:    "Webhook is already being processed",
		StatusCode: 409,
	}

	ErrProcessingFailed = &AppError{
		Code:       "PROCESSING_FAILED",
		Message:    "Webhook could not be processed",
		StatusCode: 500,
	}

	ErrInvalidPayload = &AppError{
		Code:       "INVALID_PAYLOAD",
		Message:    "Webhook payload does not match the expected schema",
		StatusCode: 422,
	}

	// Ledger and bucket errors
	ErrEventNotFound = &AppError{
		Code:       "EVENT_NOT_FOUND",
		Message:    "Webhook event not found",
		StatusCode: 404,
	}

	ErrInvalidTransition = &AppError{
		Code:       "INVALID_STATUS_TRANSITION",
		Message:    "Webhook event is no longer processing",
		StatusCode: 409,
	}

	ErrBucketNotFound = &AppError{
		Code:       "BUCKET_NOT_FOUND",
		Message:    "Rate limit bucket not found",
		StatusCode: 404,
	}
)
