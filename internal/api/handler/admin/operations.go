package admin

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// OperationsHandler serves the operator API under /v1/admin
type OperationsHandler struct {
	service admin.Operations
	logger  *slog.Logger
}

func NewOperationsHandler(service admin.Operations, logger *slog.Logger) *OperationsHandler {
	return &OperationsHandler{
		service: service,
		logger:  logger,
	}
}

// Stats handles GET /webhooks/stats?window_hours=
func (h *OperationsHandler) Stats(c *fiber.Ctx) error {
	window := c.QueryInt("window_hours", admin.DefaultWindowHours)

	stats, err := h.service.Stats(c.UserContext(), window)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// Alerts handles GET /webhooks/alerts
func (h *OperationsHandler) Alerts(c *fiber.Ctx) error {
	report, err := h.service.Alerts(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// Events handles GET /webhooks/events?source=&status=&since_hours=&limit=
func (h *OperationsHandler) Events(c *fiber.Ctx) error {
	var filter domain.EventFilter
	if err := c.QueryParser(&filter); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if hours := c.QueryInt("since_hours", 0); hours > 0 {
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	events, err := h.service.Events(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

// Event handles GET /webhooks/events/:id
func (h *OperationsHandler) Event(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	ev, err := h.service.Event(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(ev)
}

// Buckets handles GET /rate-limits?source=
func (h *OperationsHandler) Buckets(c *fiber.Ctx) error {
	buckets, err := h.service.Buckets(c.UserContext(), c.Query("source"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"buckets": buckets,
	})
}

// ResetBucket handles DELETE /rate-limits/:source/:key
func (h *OperationsHandler) ResetBucket(c *fiber.Ctx) error {
	err := h.service.ResetBucket(c.UserContext(), middleware.Operator(c), c.Params("source"), c.Params("key"))
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Cleanup handles POST /maintenance/cleanup
func (h *OperationsHandler) Cleanup(c *fiber.Ctx) error {
	report, err := h.service.Cleanup(c.UserContext(), middleware.Operator(c))
	if err != nil {
		h.logger.Error("maintenance failed", "error", err, "operator", middleware.Operator(c))
		return domain.ErrInternal.WithError(err)
	}
	return c.JSON(report)
}
