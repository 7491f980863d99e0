package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// GradeHandler exposes grading, score recomputation and grade publication.
type GradeHandler struct {
	service service.GradeAggregator
	logger  zerolog.Logger
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(service service.GradeAggregator, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		service: service,
		logger:  logger.With().Str("component", "grade_handler").Logger(),
	}
}

// RegisterAssignmentRoutes binds the per-assignment grading routes.
func (h *GradeHandler) RegisterAssignmentRoutes(router fiber.Router, staff fiber.Handler) {
	router.Get("/:id/submissions", staff, h.listSubmissions)
	router.Post("/:id/publish", staff, h.publish)
	router.Post("/:id/archive", staff, h.archive)
}

// RegisterSubmissionRoutes binds the per-submission grading routes.
func (h *GradeHandler) RegisterSubmissionRoutes(router fiber.Router, staff fiber.Handler) {
	router.Get("/:id", h.getSubmission)
	router.Put("/:id/grade", staff, h.grade)
	router.Post("/:id/recompute", staff, h.recompute)
}

func (h *GradeHandler) listSubmissions(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	items, err := h.service.ListSubmissions(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to list submissions")
	}
	return utils.SendSuccess(c, "submissions retrieved", items)
}

func (h *GradeHandler) getSubmission(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	actor := actorFromContext(c)
	submission, err := h.service.GetSubmission(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load submission")
	}
	if !actor.IsStaff() {
		if submission.StudentID != actor.ID {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		submission = hideUnpublishedGrade(submission)
	}
	return utils.SendSuccess(c, "submission retrieved", submission)
}

// hideUnpublishedGrade strips grading fields a student may not see before publication.
func hideUnpublishedGrade(submission dto.SubmissionResponse) dto.SubmissionResponse {
	if submission.Status == string(models.SubmissionStatusGradesPublished) {
		return submission
	}
	submission.InstructorScore = nil
	submission.PeerAverageScore = nil
	submission.OldScore = nil
	submission.FinalScore = nil
	submission.IsPassed = nil
	submission.Feedback = ""
	return submission
}

func (h *GradeHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	var payload dto.GradeSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	submission, err := h.service.GradeSubmission(withRequestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to grade submission")
	}
	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *GradeHandler) recompute(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	submission, err := h.service.RecomputeSubmissionScore(withRequestContext(c), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to recompute score")
	}
	return utils.SendSuccess(c, "score recomputed", submission)
}

func (h *GradeHandler) publish(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	var payload dto.PublishGradesRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	result, err := h.service.PublishGrades(withRequestContext(c), id, payload.Force, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to publish grades")
	}
	return utils.SendSuccess(c, "grades published", result)
}

func (h *GradeHandler) archive(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment id")
	}

	result, err := h.service.ArchiveAssignment(withRequestContext(c), id, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to archive assignment")
	}
	return utils.SendSuccess(c, "assignment archived", result)
}
