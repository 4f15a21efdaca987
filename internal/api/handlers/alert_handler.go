package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/middleware/validation"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
)

type AlertHandler struct {
	service  ReportService
	maxLimit int
}

func NewAlertHandler(service ReportService, maxLimit int) *AlertHandler {
	return &AlertHandler{
		service:  service,
		maxLimit: maxLimit,
	}
}

func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	params, err := validation.Params(c, h.maxLimit)
	if err != nil {
		return writeError(c, err)
	}

	active, err := h.service.ActiveAlerts(c.Context(), params.Scope, params.Limit)
	if err != nil {
		logger.Error("Failed to list alerts", zap.String("tenant_id", params.Scope.TenantID), zap.Error(err))
		return writeError(c, err)
	}
	if active == nil {
		active = []models.Alert{}
	}

	return c.JSON(fiber.Map{
		"alerts": active,
		"count":  len(active),
	})
}

func (h *AlertHandler) DismissAlert(c *fiber.Ctx) error {
	id := c.Params("id")
	reason := validation.DismissReason(c)

	a, err := h.service.DismissAlert(c.Context(), id, reason)
	if err != nil {
		if statusFor(err) == fiber.StatusInternalServerError {
			logger.Error("Failed to dismiss alert", zap.String("alert_id", id), zap.Error(err))
		}
		return writeError(c, err)
	}

	return c.JSON(a)
}
