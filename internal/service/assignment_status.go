package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/observability"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// DeriveAssignmentStatus computes the lifecycle phase of an assignment from time
// and submission facts. Manual and terminal states are returned unchanged, so
// the result depends only on its arguments.
func DeriveAssignmentStatus(assignment models.Assignment, submissionCount int64, now time.Time, defaultReviewWindow time.Duration) models.AssignmentStatus {
	switch {
	case assignment.Status == models.AssignmentStatusDraft,
		assignment.Status.IsTerminal(),
		assignment.StatusLocked:
		return assignment.Status
	}

	switch {
	case now.Before(assignment.StartDate):
		return models.AssignmentStatusUpcoming
	case !now.After(assignment.SubmissionDeadline):
		return models.AssignmentStatusActive
	case submissionCount == 0:
		return models.AssignmentStatusCancelled
	case !now.After(assignment.EffectiveReviewDeadline(defaultReviewWindow)):
		return models.AssignmentStatusInReview
	default:
		return models.AssignmentStatusClosed
	}
}

// AssignmentStatusService drives the assignment status machine.
type AssignmentStatusService interface {
	Sweep(ctx context.Context) (dto.SweepResponse, error)
	Get(ctx context.Context, assignmentID uint) (dto.AssignmentStatusResponse, error)
	Refresh(ctx context.Context, assignmentID uint) (dto.AssignmentStatusResponse, error)
	Release(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error)
	Cancel(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error)
}

type assignmentStatusService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	settings    SettingsProvider
	audit       AuditRecorder
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAssignmentStatusService constructs the status machine. audit may be nil.
func NewAssignmentStatusService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, settings SettingsProvider, audit AuditRecorder, logger zerolog.Logger) AssignmentStatusService {
	return &assignmentStatusService{
		assignments: assignments,
		submissions: submissions,
		settings:    settings,
		audit:       audit,
		logger:      logger.With().Str("component", "assignment_status_service").Logger(),
		now:         time.Now,
	}
}

// Sweep recomputes every automatically managed assignment. Each update is a
// compare-and-set on the previous status, so overlapping sweeps are safe.
func (s *assignmentStatusService) Sweep(ctx context.Context) (dto.SweepResponse, error) {
	const op = "assignment_status.sweep"

	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return dto.SweepResponse{}, err
	}

	assignments, err := s.assignments.ListForSweep(ctx)
	if err != nil {
		return dto.SweepResponse{}, storageError(op, err)
	}

	ids := make([]uint, 0, len(assignments))
	for _, assignment := range assignments {
		ids = append(ids, assignment.ID)
	}
	counts, err := s.submissions.CountByAssignments(ctx, ids)
	if err != nil {
		return dto.SweepResponse{}, storageError(op, err)
	}

	now := s.now().UTC()
	result := dto.SweepResponse{}
	for _, assignment := range assignments {
		result.Evaluated++
		next := DeriveAssignmentStatus(assignment, counts[assignment.ID], now, snapshot.DefaultReviewWindow)
		if next == assignment.Status {
			continue
		}

		if err := s.assignments.CompareAndSetStatus(ctx, assignment.ID, assignment.Status, next, false); err != nil {
			result.Skipped++
			if !errors.Is(err, repository.ErrStatusChanged) {
				s.logger.Error().Err(err).Uint("assignment_id", assignment.ID).Msg("failed to update assignment status")
			}
			continue
		}

		result.Updated++
		observability.StatusTransitions().WithLabelValues(string(assignment.Status), string(next)).Inc()
		s.logger.Info().
			Uint("assignment_id", assignment.ID).
			Str("from", string(assignment.Status)).
			Str("to", string(next)).
			Msg("assignment status changed")
	}

	return result, nil
}

func (s *assignmentStatusService) Get(ctx context.Context, assignmentID uint) (dto.AssignmentStatusResponse, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentStatusResponse{}, lookupError("assignment_status.get", "assignment", assignmentID, err)
	}
	return dto.NewAssignmentStatusResponse(assignment, false), nil
}

func (s *assignmentStatusService) Refresh(ctx context.Context, assignmentID uint) (dto.AssignmentStatusResponse, error) {
	const op = "assignment_status.refresh"

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentStatusResponse{}, lookupError(op, "assignment", assignmentID, err)
	}

	next, err := s.derive(ctx, assignment)
	if err != nil {
		return dto.AssignmentStatusResponse{}, err
	}
	if next == assignment.Status {
		return dto.NewAssignmentStatusResponse(assignment, false), nil
	}

	return s.transition(ctx, op, assignment, next, false)
}

// Release takes an assignment out of Draft into its time-derived phase.
func (s *assignmentStatusService) Release(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error) {
	const op = "assignment_status.release"

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentStatusResponse{}, lookupError(op, "assignment", assignmentID, err)
	}
	if assignment.Status != models.AssignmentStatusDraft {
		return dto.AssignmentStatusResponse{}, stateError(op, "assignment %d is %s, only drafts can be released", assignmentID, assignment.Status)
	}
	if !assignment.SubmissionDeadline.After(assignment.StartDate) {
		return dto.AssignmentStatusResponse{}, validationError(op, "submission deadline must be after start date")
	}
	if assignment.ReviewDeadline != nil && assignment.ReviewDeadline.Before(assignment.SubmissionDeadline) {
		return dto.AssignmentStatusResponse{}, validationError(op, "review deadline must not precede submission deadline")
	}

	released := assignment
	released.Status = models.AssignmentStatusUpcoming
	next, err := s.derive(ctx, released)
	if err != nil {
		return dto.AssignmentStatusResponse{}, err
	}

	response, err := s.transition(ctx, op, assignment, next, false)
	if err != nil {
		return dto.AssignmentStatusResponse{}, err
	}
	s.logger.Info().Uint("assignment_id", assignmentID).Uint("actor_id", actor.ID).Msg("assignment released")
	recordAudit(ctx, s.audit, actor, AuditAssignmentReleased, "assignment", assignmentID, map[string]interface{}{"status": response.Status})
	return response, nil
}

// Cancel moves an assignment to a Cancelled state the sweep will not override.
func (s *assignmentStatusService) Cancel(ctx context.Context, assignmentID uint, actor Actor) (dto.AssignmentStatusResponse, error) {
	const op = "assignment_status.cancel"

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return dto.AssignmentStatusResponse{}, lookupError(op, "assignment", assignmentID, err)
	}
	if assignment.Status.IsTerminal() {
		return dto.AssignmentStatusResponse{}, stateError(op, "assignment %d is %s and cannot be cancelled", assignmentID, assignment.Status)
	}

	response, err := s.transition(ctx, op, assignment, models.AssignmentStatusCancelled, true)
	if err != nil {
		return dto.AssignmentStatusResponse{}, err
	}
	s.logger.Info().Uint("assignment_id", assignmentID).Uint("actor_id", actor.ID).Msg("assignment cancelled")
	recordAudit(ctx, s.audit, actor, AuditAssignmentCanceled, "assignment", assignmentID, nil)
	return response, nil
}

func (s *assignmentStatusService) derive(ctx context.Context, assignment models.Assignment) (models.AssignmentStatus, error) {
	snapshot, err := s.settings.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	counts, err := s.submissions.CountByAssignments(ctx, []uint{assignment.ID})
	if err != nil {
		return "", storageError("assignment_status.derive", err)
	}
	return DeriveAssignmentStatus(assignment, counts[assignment.ID], s.now().UTC(), snapshot.DefaultReviewWindow), nil
}

func (s *assignmentStatusService) transition(ctx context.Context, op string, assignment models.Assignment, next models.AssignmentStatus, locked bool) (dto.AssignmentStatusResponse, error) {
	if err := s.assignments.CompareAndSetStatus(ctx, assignment.ID, assignment.Status, next, locked); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return dto.AssignmentStatusResponse{}, concurrencyError(op, err)
		}
		return dto.AssignmentStatusResponse{}, storageError(op, err)
	}

	observability.StatusTransitions().WithLabelValues(string(assignment.Status), string(next)).Inc()

	assignment.Status = next
	assignment.StatusLocked = locked
	assignment.Version++
	return dto.NewAssignmentStatusResponse(assignment, true), nil
}
