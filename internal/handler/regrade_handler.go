package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// RegradeHandler exposes the regrade dispute workflow.
type RegradeHandler struct {
	service service.RegradeService
	logger  zerolog.Logger
}

// NewRegradeHandler constructs the handler.
func NewRegradeHandler(service service.RegradeService, logger zerolog.Logger) *RegradeHandler {
	return &RegradeHandler{
		service: service,
		logger:  logger.With().Str("component", "regrade_handler").Logger(),
	}
}

// Register binds the regrade routes.
func (h *RegradeHandler) Register(router fiber.Router, staff fiber.Handler) {
	router.Post("", h.create)
	router.Get("/overdue", staff, h.listOverdue)
	router.Post("/:id/review", staff, h.review)
	router.Post("/:id/complete", staff, h.complete)
}

// RegisterSubmissionRoutes binds the regrade history of a submission.
func (h *RegradeHandler) RegisterSubmissionRoutes(router fiber.Router) {
	router.Get("/:id/regrades", h.listForSubmission)
}

func (h *RegradeHandler) create(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.RegradeCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	request, err := h.service.CreateRegradeRequest(withRequestContext(c), payload, actor)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to create regrade request")
	}
	return utils.SendCreated(c, "regrade requested", request)
}

func (h *RegradeHandler) review(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid regrade id")
	}

	var payload dto.RegradeDecisionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	request, err := h.service.ReviewRegradeRequest(withRequestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to review regrade request")
	}
	return utils.SendSuccess(c, "regrade request reviewed", request)
}

func (h *RegradeHandler) complete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid regrade id")
	}

	var payload dto.RegradeCompleteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	request, err := h.service.CompleteRegradeRequest(withRequestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to complete regrade request")
	}
	return utils.SendSuccess(c, "regrade request completed", request)
}

func (h *RegradeHandler) listForSubmission(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	items, err := h.service.ListForSubmission(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list regrade requests")
	}
	return utils.SendSuccess(c, "regrade requests", items)
}

func (h *RegradeHandler) listOverdue(c *fiber.Ctx) error {
	items, err := h.service.ListOverdue(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list overdue regrade requests")
	}
	return utils.SendSuccess(c, "overdue regrade requests", items)
}
