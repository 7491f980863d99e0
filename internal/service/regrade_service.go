package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// RegradeService runs the regrade dispute workflow.
type RegradeService interface {
	CreateRegradeRequest(ctx context.Context, payload dto.RegradeCreateRequest, actor Actor) (dto.RegradeResponse, error)
	ReviewRegradeRequest(ctx context.Context, requestID uint, payload dto.RegradeDecisionRequest, actor Actor) (dto.RegradeResponse, error)
	CompleteRegradeRequest(ctx context.Context, requestID uint, payload dto.RegradeCompleteRequest, actor Actor) (dto.RegradeResponse, error)
	ListForSubmission(ctx context.Context, submissionID uint, actor Actor) ([]dto.RegradeResponse, error)
	ListOverdue(ctx context.Context) ([]dto.RegradeResponse, error)
}

type regradeService struct {
	regrades    repository.RegradeRepository
	submissions repository.SubmissionRepository
	settings    SettingsProvider
	notifier    Notifier
	audit       AuditRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRegradeService constructs the regrade workflow. notifier and audit may be nil.
func NewRegradeService(regrades repository.RegradeRepository, submissions repository.SubmissionRepository, settings SettingsProvider, notifier Notifier, audit AuditRecorder, validate *validator.Validate, logger zerolog.Logger) RegradeService {
	return &regradeService{
		regrades:    regrades,
		submissions: submissions,
		settings:    settings,
		notifier:    notifier,
		audit:       audit,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "regrade_service").Logger(),
		now:         time.Now,
	}
}

func (s *regradeService) CreateRegradeRequest(ctx context.Context, payload dto.RegradeCreateRequest, actor Actor) (dto.RegradeResponse, error) {
	const op = "regrade.create"

	if err := s.validator.Struct(payload); err != nil {
		return dto.RegradeResponse{}, validationError(op, "%s", err.Error())
	}

	reason := strings.TrimSpace(s.sanitizer.Sanitize(payload.Reason))
	if reason == "" {
		return dto.RegradeResponse{}, validationError(op, "reason is empty after sanitization")
	}

	submission, err := s.submissions.GetByID(ctx, payload.SubmissionID)
	if err != nil {
		return dto.RegradeResponse{}, lookupError(op, "submission", payload.SubmissionID, err)
	}
	if submission.StudentID != actor.ID && !actor.IsStaff() {
		return dto.RegradeResponse{}, notFoundError(op, "submission", payload.SubmissionID)
	}
	if !submission.IsGraded() {
		return dto.RegradeResponse{}, stateError(op, "submission %d has not been graded", submission.ID)
	}

	request := models.RegradeRequest{
		SubmissionID: submission.ID,
		Reason:       reason,
		RequestedAt:  s.now().UTC(),
		RequestedBy:  actor.ID,
	}
	if err := s.regrades.CreatePending(ctx, &request); err != nil {
		if errors.Is(err, repository.ErrPendingRegradeExists) {
			return dto.RegradeResponse{}, conflictError(op, "submission %d already has a pending regrade request", submission.ID)
		}
		return dto.RegradeResponse{}, storageError(op, err)
	}

	s.logger.Info().Uint("regrade_id", request.ID).Uint("submission_id", submission.ID).Uint("actor_id", actor.ID).Msg("regrade requested")
	recordAudit(ctx, s.audit, actor, AuditRegradeRequested, "regrade_request", request.ID, map[string]interface{}{
		"submission_id": submission.ID,
	})

	if submission.GradedBy != nil {
		s.notify(ctx, *submission.GradedBy, "Regrade requested", fmt.Sprintf("A regrade was requested for submission #%d.", submission.ID))
	}

	return s.response(ctx, request)
}

// ReviewRegradeRequest accepts or rejects a pending request. Accepting only
// authorises the instructor to regrade; scores are not touched here.
func (s *regradeService) ReviewRegradeRequest(ctx context.Context, requestID uint, payload dto.RegradeDecisionRequest, actor Actor) (dto.RegradeResponse, error) {
	const op = "regrade.review"

	if err := s.validator.Struct(payload); err != nil {
		return dto.RegradeResponse{}, validationError(op, "%s", err.Error())
	}

	notes := strings.TrimSpace(s.sanitizer.Sanitize(payload.ResolutionNotes))
	if payload.Decision == "reject" && notes == "" {
		return dto.RegradeResponse{}, validationError(op, "resolution notes are required when rejecting")
	}

	request, err := s.regrades.GetByID(ctx, requestID)
	if err != nil {
		return dto.RegradeResponse{}, lookupError(op, "regrade request", requestID, err)
	}
	if request.Status != models.RegradeStatusPending {
		return dto.RegradeResponse{}, stateError(op, "regrade request %d is %s, only pending requests can be reviewed", requestID, request.Status)
	}

	resolvedAt := s.now().UTC()
	resolvedBy := actor.ID
	request.ResolvedAt = &resolvedAt
	request.ResolvedBy = &resolvedBy
	request.ResolutionNotes = notes
	request.Status = models.RegradeStatusAccepted
	if payload.Decision == "reject" {
		request.Status = models.RegradeStatusRejected
	}

	if err := s.transition(ctx, op, &request, models.RegradeStatusPending); err != nil {
		return dto.RegradeResponse{}, err
	}

	recordAudit(ctx, s.audit, actor, AuditRegradeDecided, "regrade_request", request.ID, map[string]interface{}{
		"submission_id": request.SubmissionID,
		"decision":      string(request.Status),
	})
	s.notify(ctx, request.RequestedBy, "Regrade request "+string(request.Status), fmt.Sprintf("Your regrade request for submission #%d was %s.", request.SubmissionID, request.Status))
	return s.response(ctx, request)
}

// CompleteRegradeRequest closes an accepted request once the regrade was applied.
func (s *regradeService) CompleteRegradeRequest(ctx context.Context, requestID uint, payload dto.RegradeCompleteRequest, actor Actor) (dto.RegradeResponse, error) {
	const op = "regrade.complete"

	if err := s.validator.Struct(payload); err != nil {
		return dto.RegradeResponse{}, validationError(op, "%s", err.Error())
	}

	request, err := s.regrades.GetByID(ctx, requestID)
	if err != nil {
		return dto.RegradeResponse{}, lookupError(op, "regrade request", requestID, err)
	}
	if request.Status != models.RegradeStatusAccepted {
		return dto.RegradeResponse{}, stateError(op, "regrade request %d is %s, only accepted requests can be completed", requestID, request.Status)
	}

	completedAt := s.now().UTC()
	request.CompletedAt = &completedAt
	request.Status = models.RegradeStatusCompleted
	if notes := strings.TrimSpace(s.sanitizer.Sanitize(payload.ResolutionNotes)); notes != "" {
		request.ResolutionNotes = notes
	}
	if request.ResolvedBy == nil {
		resolvedBy := actor.ID
		request.ResolvedBy = &resolvedBy
	}

	if err := s.transition(ctx, op, &request, models.RegradeStatusAccepted); err != nil {
		return dto.RegradeResponse{}, err
	}

	recordAudit(ctx, s.audit, actor, AuditRegradeCompleted, "regrade_request", request.ID, map[string]interface{}{
		"submission_id": request.SubmissionID,
	})
	s.notify(ctx, request.RequestedBy, "Regrade completed", fmt.Sprintf("The regrade of submission #%d is complete.", request.SubmissionID))
	return s.response(ctx, request)
}

func (s *regradeService) ListForSubmission(ctx context.Context, submissionID uint, actor Actor) ([]dto.RegradeResponse, error) {
	const op = "regrade.list"

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, lookupError(op, "submission", submissionID, err)
	}
	if submission.StudentID != actor.ID && !actor.IsStaff() {
		return nil, notFoundError(op, "submission", submissionID)
	}

	requests, err := s.regrades.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return s.responses(ctx, requests)
}

// ListOverdue reports pending requests older than the configured SLA. It never
// changes their state.
func (s *regradeService) ListOverdue(ctx context.Context) ([]dto.RegradeResponse, error) {
	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().AddDate(0, 0, -snapshot.RegradeSLADays)
	requests, err := s.regrades.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return nil, storageError("regrade.list_overdue", err)
	}
	return s.responses(ctx, requests)
}

func (s *regradeService) transition(ctx context.Context, op string, request *models.RegradeRequest, from models.RegradeStatus) error {
	if err := s.regrades.Transition(ctx, request, from); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return concurrencyError(op, err)
		}
		return storageError(op, err)
	}

	s.logger.Info().
		Uint("regrade_id", request.ID).
		Str("from", string(from)).
		Str("to", string(request.Status)).
		Msg("regrade request transitioned")
	return nil
}

func (s *regradeService) response(ctx context.Context, request models.RegradeRequest) (dto.RegradeResponse, error) {
	responses, err := s.responses(ctx, []models.RegradeRequest{request})
	if err != nil {
		return dto.RegradeResponse{}, err
	}
	return responses[0], nil
}

func (s *regradeService) responses(ctx context.Context, requests []models.RegradeRequest) ([]dto.RegradeResponse, error) {
	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	responses := make([]dto.RegradeResponse, 0, len(requests))
	for _, request := range requests {
		response := dto.NewRegradeResponse(request)
		response.Overdue = request.Status == models.RegradeStatusPending &&
			now.After(request.RequestedAt.AddDate(0, 0, snapshot.RegradeSLADays))
		responses = append(responses, response)
	}
	return responses, nil
}

func (s *regradeService) notify(ctx context.Context, userID uint, title, message string) {
	if s.notifier == nil || userID == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, userID, title, message, models.NotificationTypeRegrade); err != nil {
		s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to send regrade notification")
	}
}
