package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// AuditHandler exposes the grade audit trail to staff.
type AuditHandler struct {
	service service.AuditService
	logger  zerolog.Logger
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service service.AuditService, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger.With().Str("component", "audit_handler").Logger(),
	}
}

// Register binds the audit routes.
func (h *AuditHandler) Register(router fiber.Router, staff fiber.Handler) {
	router.Get("", staff, h.list)
}

func (h *AuditHandler) list(c *fiber.Ctx) error {
	var req dto.AuditListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.List(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load audit trail")
	}

	return utils.SendSuccess(c, "audit trail", result)
}
