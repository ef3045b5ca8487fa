package handler

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/webhook"
)

// Inbound delivery headers
const (
	HeaderWebhookID        = "X-Webhook-Id"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookEvent     = "X-Webhook-Event"
)

// Gate decides a delivery
type Gate interface {
	Handle(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

type WebhookHandler struct {
	gate   Gate
	logger *slog.Logger
}

func NewWebhookHandler(gate Gate, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{gate: gate, logger: logger}
}

// WebhookResponse is the body returned to the provider
type WebhookResponse struct {
	Outcome   domain.Outcome `json:"outcome"`
	RequestID string         `json:"request_id"`
	EventID   *uuid.UUID     `json:"event_id,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
}

// ErrorBody matches the error handler's error object
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Receive runs POST /v1/webhooks/:source through the admission gate
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	ts, err := webhook.ParseTimestamp(c.Get(HeaderWebhookTimestamp))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	// The body buffer is reused by fasthttp after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	res, err := h.gate.Handle(c.UserContext(), webhook.Delivery{
		Source:    c.Params("source"),
		WebhookID: c.Get(HeaderWebhookID),
		EventType: c.Get(HeaderWebhookEvent),
		Timestamp: ts,
		Signature: c.Get(HeaderWebhookSignature),
		Payload:   payload,
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		RequestID: middleware.RequestID(c),

		UpstreamRequestID: middleware.UpstreamRequestID(c),
	})
	if err != nil {
		return err
	}

	resp := WebhookResponse{
		Outcome:   res.Outcome,
		RequestID: res.RequestID,
		EventID:   res.EventID,
	}

	status := fiber.StatusOK
	if appErr := res.Outcome.AppError(); appErr != nil {
		status = appErr.StatusCode
		resp.Error = &ErrorBody{Code: appErr.Code, Message: appErr.Message}
	}
	if res.Outcome == domain.OutcomeThrottled && res.Decision != nil {
		middleware.SetRateLimitHeaders(c, *res.Decision)
	}

	return c.Status(status).JSON(resp)
}
