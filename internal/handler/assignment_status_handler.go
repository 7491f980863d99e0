package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// AssignmentStatusHandler exposes the assignment status machine.
type AssignmentStatusHandler struct {
	service service.AssignmentStatusService
	logger  zerolog.Logger
}

// NewAssignmentStatusHandler constructs the handler.
func NewAssignmentStatusHandler(service service.AssignmentStatusService, logger zerolog.Logger) *AssignmentStatusHandler {
	return &AssignmentStatusHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_status_handler").Logger(),
	}
}

// Register binds status routes on the assignments group.
func (h *AssignmentStatusHandler) Register(router fiber.Router, staff fiber.Handler) {
	router.Post("/status/sweep", staff, h.sweep)
	router.Get("/:id/status", h.get)
	router.Post("/:id/status/refresh", staff, h.refresh)
	router.Post("/:id/release", staff, h.release)
	router.Post("/:id/cancel", staff, h.cancel)
}

func (h *AssignmentStatusHandler) sweep(c *fiber.Ctx) error {
	result, err := h.service.Sweep(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to sweep assignment statuses")
	}
	return utils.SendSuccess(c, "assignment statuses swept", result)
}

func (h *AssignmentStatusHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	status, err := h.service.Get(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load assignment status")
	}
	return utils.SendSuccess(c, "assignment status", status)
}

func (h *AssignmentStatusHandler) refresh(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	status, err := h.service.Refresh(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to refresh assignment status")
	}
	return utils.SendSuccess(c, "assignment status refreshed", status)
}

func (h *AssignmentStatusHandler) release(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	status, err := h.service.Release(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to release assignment")
	}
	return utils.SendSuccess(c, "assignment released", status)
}

func (h *AssignmentStatusHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	status, err := h.service.Cancel(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to cancel assignment")
	}
	return utils.SendSuccess(c, "assignment cancelled", status)
}
