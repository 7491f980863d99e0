package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// ReviewHandler exposes reviewer matching and review submission.
type ReviewHandler struct {
	matcher service.ReviewMatcher
	tracker service.ReviewTracker
	logger  zerolog.Logger
}

// NewReviewHandler constructs the handler.
func NewReviewHandler(matcher service.ReviewMatcher, tracker service.ReviewTracker, logger zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		matcher: matcher,
		tracker: tracker,
		logger:  logger.With().Str("component", "review_handler").Logger(),
	}
}

// RegisterAssignmentRoutes binds the per-assignment review routes. staff guards instructor-only endpoints.
func (h *ReviewHandler) RegisterAssignmentRoutes(router fiber.Router, staff fiber.Handler) {
	router.Post("/:id/review-assignments", staff, h.assign)
	router.Get("/:id/review-assignments", staff, h.listForAssignment)
}

// Register binds the reviewer routes.
func (h *ReviewHandler) Register(router fiber.Router) {
	router.Get("/mine", h.listMine)
	router.Post("/:id", h.submit)
}

func (h *ReviewHandler) assign(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	var payload dto.AssignReviewsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	result, err := h.matcher.AssignReviews(withRequestContext(c), id, service.MatchOptions{
		ReviewsPerSubmission: payload.ReviewsPerSubmission,
		Force:                payload.Force,
	})
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to assign reviews")
	}

	return utils.SendSuccess(c, "reviews assigned", result)
}

func (h *ReviewHandler) listForAssignment(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	items, err := h.tracker.ListForAssignment(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list review assignments")
	}

	return utils.SendSuccess(c, "review assignments", items)
}

func (h *ReviewHandler) listMine(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	items, err := h.tracker.ListForReviewer(withRequestContext(c), actor.ID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list review assignments")
	}

	return utils.SendSuccess(c, "review assignments", items)
}

func (h *ReviewHandler) submit(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if actor.ID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid review assignment id")
	}

	var payload dto.SubmitReviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.tracker.SubmitReview(withRequestContext(c), id, payload, actor)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to submit review")
	}

	return utils.SendSuccess(c, "review submitted", result)
}
