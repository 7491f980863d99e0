package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/observability"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// EnrollmentDirectory answers whether students are actively enrolled in a course section.
type EnrollmentDirectory interface {
	ActiveStudentIDs(ctx context.Context, courseSectionID uint) ([]uint, error)
}

// MatchOptions tunes a matcher run. A nil ReviewsPerSubmission uses the
// assignment's required peer review count.
type MatchOptions struct {
	ReviewsPerSubmission *int
	Force                bool
}

// ReviewMatcher pairs reviewers with submissions.
type ReviewMatcher interface {
	AssignReviews(ctx context.Context, assignmentID uint, opts MatchOptions) (dto.AssignReviewsResponse, error)
}

type reviewMatcher struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	reviews     repository.ReviewAssignmentRepository
	directory   EnrollmentDirectory
	settings    SettingsProvider
	notifier    Notifier
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewReviewMatcher constructs the reviewer matcher. notifier may be nil.
func NewReviewMatcher(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	reviews repository.ReviewAssignmentRepository,
	directory EnrollmentDirectory,
	settings SettingsProvider,
	notifier Notifier,
	logger zerolog.Logger,
) ReviewMatcher {
	return &reviewMatcher{
		assignments: assignments,
		submissions: submissions,
		reviews:     reviews,
		directory:   directory,
		settings:    settings,
		notifier:    notifier,
		logger:      logger.With().Str("component", "review_matcher").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-review-engine/internal/service/review_matcher"),
		now:         time.Now,
	}
}

// matchPool is the reviewer universe of one matcher run.
type matchPool struct {
	targets    []models.Submission
	candidates []uint
	paired     map[uint]map[uint]bool
	hasAI      map[uint]bool
	load       map[uint]int
}

// AssignReviews fills the reviewer gap of every submission of the assignment.
// Reviewers are chosen greedily by fewest active pairings in the pool, ties
// broken by lowest id, so a run over the same facts is deterministic.
func (m *reviewMatcher) AssignReviews(ctx context.Context, assignmentID uint, opts MatchOptions) (dto.AssignReviewsResponse, error) {
	const op = "reviews.assign"

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("reviews.assignment_id", int64(assignmentID)),
		attribute.Bool("reviews.force", opts.Force),
	))
	defer span.End()

	assignment, err := m.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		span.RecordError(err)
		return dto.AssignReviewsResponse{}, lookupError(op, "assignment", assignmentID, err)
	}

	perSubmission := assignment.NumPeerReviewsRequired
	if opts.ReviewsPerSubmission != nil {
		perSubmission = *opts.ReviewsPerSubmission
	}
	if perSubmission <= 0 {
		return dto.AssignReviewsResponse{}, validationError(op, "reviews per submission must be positive, got %d", perSubmission)
	}

	switch assignment.Status {
	case models.AssignmentStatusDraft, models.AssignmentStatusCancelled,
		models.AssignmentStatusGradesPublished, models.AssignmentStatusArchived:
		return dto.AssignReviewsResponse{}, stateError(op, "reviewers cannot be assigned while assignment is %s", assignment.Status)
	}

	snapshot, err := m.settings.Snapshot(ctx)
	if err != nil {
		return dto.AssignReviewsResponse{}, err
	}

	now := m.now().UTC()
	deadline := assignment.EffectiveReviewDeadline(snapshot.DefaultReviewWindow)
	if now.After(deadline) && !opts.Force {
		return dto.AssignReviewsResponse{}, conflictError(op, "review deadline %s has passed, use force to match anyway", deadline.Format(time.RFC3339))
	}

	pool, err := m.buildPool(ctx, assignment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pool_failed")
		return dto.AssignReviewsResponse{}, storageError(op, err)
	}

	response := dto.AssignReviewsResponse{
		AssignmentID: assignmentID,
		Shortfalls:   []dto.ReviewShortfall{},
		Errors:       []string{},
	}

	for _, submission := range pool.targets {
		m.matchSubmission(ctx, assignment, submission, perSubmission, deadline, now, pool, &response)
	}

	span.SetAttributes(
		attribute.Int("reviews.created", response.Created),
		attribute.Int("reviews.ai_created", response.AICreated),
		attribute.Int("reviews.shortfalls", len(response.Shortfalls)),
	)
	m.logger.Info().
		Uint("assignment_id", assignmentID).
		Int("created", response.Created).
		Int("ai_created", response.AICreated).
		Int("skipped", response.Skipped).
		Int("shortfalls", len(response.Shortfalls)).
		Msg("review matching finished")

	return response, nil
}

func (m *reviewMatcher) buildPool(ctx context.Context, assignment models.Assignment) (*matchPool, error) {
	poolAssignments := []models.Assignment{assignment}
	if tag := assignment.CrossClassPoolTag(); tag != "" {
		tagged, err := m.assignments.ListByCrossClassTag(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, item := range tagged {
			if item.ID != assignment.ID {
				poolAssignments = append(poolAssignments, item)
			}
		}
	}

	assignmentIDs := make([]uint, 0, len(poolAssignments))
	sectionOf := make(map[uint]uint, len(poolAssignments))
	for _, item := range poolAssignments {
		assignmentIDs = append(assignmentIDs, item.ID)
		sectionOf[item.ID] = item.CourseSectionID
	}

	submissions, err := m.submissions.ListByAssignments(ctx, assignmentIDs)
	if err != nil {
		return nil, err
	}

	enrolled := make(map[uint]map[uint]bool)
	for _, section := range sectionOf {
		if _, ok := enrolled[section]; ok {
			continue
		}
		ids, err := m.directory.ActiveStudentIDs(ctx, section)
		if err != nil {
			return nil, err
		}
		members := make(map[uint]bool, len(ids))
		for _, id := range ids {
			members[id] = true
		}
		enrolled[section] = members
	}

	pool := &matchPool{
		paired: make(map[uint]map[uint]bool),
		hasAI:  make(map[uint]bool),
		load:   make(map[uint]int),
	}

	seen := make(map[uint]bool)
	submissionIDs := make([]uint, 0, len(submissions))
	for _, submission := range submissions {
		submissionIDs = append(submissionIDs, submission.ID)
		if submission.AssignmentID == assignment.ID {
			pool.targets = append(pool.targets, submission)
		}
		if seen[submission.StudentID] || !enrolled[sectionOf[submission.AssignmentID]][submission.StudentID] {
			continue
		}
		seen[submission.StudentID] = true
		pool.candidates = append(pool.candidates, submission.StudentID)
	}
	sort.Slice(pool.candidates, func(i, j int) bool { return pool.candidates[i] < pool.candidates[j] })

	existing, err := m.reviews.ListBySubmissions(ctx, submissionIDs)
	if err != nil {
		return nil, err
	}
	for _, pairing := range existing {
		if pairing.IsAIReview {
			pool.hasAI[pairing.SubmissionID] = true
			continue
		}
		if pool.paired[pairing.SubmissionID] == nil {
			pool.paired[pairing.SubmissionID] = make(map[uint]bool)
		}
		pool.paired[pairing.SubmissionID][pairing.ReviewerID] = true
		if pairing.IsActive() {
			pool.load[pairing.ReviewerID]++
		}
	}

	return pool, nil
}

func (m *reviewMatcher) matchSubmission(
	ctx context.Context,
	assignment models.Assignment,
	submission models.Submission,
	perSubmission int,
	deadline, now time.Time,
	pool *matchPool,
	response *dto.AssignReviewsResponse,
) {
	already := pool.paired[submission.ID]
	need := perSubmission - len(already)

	if need <= 0 {
		response.Skipped++
	} else {
		chosen := selectReviewers(pool.candidates, submission.StudentID, already, pool.load, need)

		pairs := make([]models.ReviewAssignment, 0, len(chosen))
		for _, reviewerID := range chosen {
			pairs = append(pairs, models.ReviewAssignment{
				AssignmentID: assignment.ID,
				SubmissionID: submission.ID,
				ReviewerID:   reviewerID,
				Status:       models.ReviewAssignmentStatusPending,
				AssignedAt:   now,
				Deadline:     deadline,
			})
		}

		created := 0
		if len(pairs) > 0 {
			if _, err := m.reviews.CreateForSubmission(ctx, pairs); err != nil {
				m.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to create review assignments")
				response.Errors = append(response.Errors, fmt.Sprintf("submission %d: storage failure", submission.ID))
				return
			}

			if pool.paired[submission.ID] == nil {
				pool.paired[submission.ID] = make(map[uint]bool)
			}
			for _, pair := range pairs {
				// Rows skipped by the conflict clause come back without an id.
				if pair.ID == 0 {
					continue
				}
				created++
				pool.paired[submission.ID][pair.ReviewerID] = true
				pool.load[pair.ReviewerID]++
				m.notifyReviewer(ctx, assignment, pair)
			}
		}

		response.Created += created
		observability.ReviewAssignmentsCreated().WithLabelValues("peer").Add(float64(created))

		if assigned := len(pool.paired[submission.ID]); assigned < perSubmission {
			response.Shortfalls = append(response.Shortfalls, dto.ReviewShortfall{
				SubmissionID: submission.ID,
				Required:     perSubmission,
				Assigned:     assigned,
			})
			observability.ReviewShortfalls().Inc()
		}
	}

	if assignment.IncludeAIScore && !pool.hasAI[submission.ID] {
		aiPair := []models.ReviewAssignment{{
			AssignmentID: assignment.ID,
			SubmissionID: submission.ID,
			ReviewerID:   models.AIReviewerID,
			Status:       models.ReviewAssignmentStatusPending,
			AssignedAt:   now,
			Deadline:     deadline,
			IsAIReview:   true,
		}}
		created, err := m.reviews.CreateForSubmission(ctx, aiPair)
		if err != nil {
			m.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to create automated review assignment")
			response.Errors = append(response.Errors, fmt.Sprintf("submission %d: automated reviewer not assigned", submission.ID))
			return
		}
		pool.hasAI[submission.ID] = true
		response.AICreated += int(created)
		observability.ReviewAssignmentsCreated().WithLabelValues("ai").Add(float64(created))
	}
}

// selectReviewers picks up to need candidates other than the author who are not
// yet paired with the submission, ordered by (load, id).
func selectReviewers(candidates []uint, authorID uint, already map[uint]bool, load map[uint]int, need int) []uint {
	eligible := make([]uint, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == authorID || candidate == models.AIReviewerID || already[candidate] {
			continue
		}
		eligible = append(eligible, candidate)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if load[eligible[i]] != load[eligible[j]] {
			return load[eligible[i]] < load[eligible[j]]
		}
		return eligible[i] < eligible[j]
	})

	if len(eligible) > need {
		eligible = eligible[:need]
	}
	return eligible
}

func (m *reviewMatcher) notifyReviewer(ctx context.Context, assignment models.Assignment, pair models.ReviewAssignment) {
	if m.notifier == nil {
		return
	}

	message := fmt.Sprintf("You have a new peer review for %q due %s.", assignment.Title, pair.Deadline.Format(time.RFC1123))
	if err := m.notifier.Notify(ctx, pair.ReviewerID, "New peer review", message, models.NotificationTypeReviewAssigned); err != nil {
		m.logger.Warn().Err(err).Uint("review_assignment_id", pair.ID).Msg("failed to notify reviewer")
	}
}
