package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/alerts"
	"github.com/stockpulse/backend/internal/middleware/validation"
	"github.com/stockpulse/backend/internal/report"
	"github.com/stockpulse/backend/internal/report/export"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
)

// ReportService is the engine surface the HTTP layer needs.
type ReportService interface {
	GenerateReport(ctx context.Context, req report.Request) (*report.Report, error)
	ActiveAlerts(ctx context.Context, scope models.Scope, limit int) ([]models.Alert, error)
	DismissAlert(ctx context.Context, id, reason string) (*models.Alert, error)
}

type ReportHandler struct {
	service  ReportService
	maxLimit int
}

func NewReportHandler(service ReportService, maxLimit int) *ReportHandler {
	return &ReportHandler{
		service:  service,
		maxLimit: maxLimit,
	}
}

func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	params, err := validation.Params(c, h.maxLimit)
	if err != nil {
		return writeError(c, err)
	}

	rep, err := h.service.GenerateReport(c.Context(), report.Request{
		Scope: params.Scope,
		Range: params.Range,
		Limit: params.Limit,
		Fresh: params.Fresh,
	})
	if err != nil {
		logger.Error("Failed to generate report", zap.String("tenant_id", params.Scope.TenantID), zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(rep)
}

// ExportReport generates the report for the requested scope and returns it
// as an XLSX attachment.
func (h *ReportHandler) ExportReport(c *fiber.Ctx) error {
	params, err := validation.Params(c, h.maxLimit)
	if err != nil {
		return writeError(c, err)
	}

	rep, err := h.service.GenerateReport(c.Context(), report.Request{
		Scope: params.Scope,
		Range: params.Range,
		Limit: params.Limit,
		Fresh: params.Fresh,
	})
	if err != nil {
		logger.Error("Failed to generate report for export", zap.String("tenant_id", params.Scope.TenantID), zap.Error(err))
		return writeError(c, err)
	}

	data, err := export.Workbook(rep)
	if err != nil {
		logger.Error("Failed to render report workbook", zap.String("report_id", rep.ID), zap.Error(err))
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, export.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, export.Filename(rep)))
	return c.Send(data)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidScope),
		errors.Is(err, models.ErrInvalidRange),
		errors.Is(err, validation.ErrInvalidLimit):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, alerts.ErrAlertNotActive):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
