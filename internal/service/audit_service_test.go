package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-engine/internal/dto"
)

func TestAuditRecordsGradeAffectingActions(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	submission := gradedSubmission(t, engine, 10)
	student := Actor{ID: 10, Role: "student"}

	request, err := engine.regrade.CreateRegradeRequest(ctx, dto.RegradeCreateRequest{SubmissionID: submission.ID, Reason: "rubric mismatch"}, student)
	require.NoError(t, err)
	_, err = engine.regrade.ReviewRegradeRequest(ctx, request.ID, dto.RegradeDecisionRequest{Decision: "accept"}, teacher)
	require.NoError(t, err)

	trail, err := engine.audit.List(ctx, dto.AuditListRequest{EntityType: "regrade_request", EntityID: request.ID})
	require.NoError(t, err)
	require.Len(t, trail.Items, 2)
	require.Equal(t, AuditRegradeDecided, trail.Items[0].Action)
	require.Equal(t, teacher.ID, trail.Items[0].ActorID)
	require.Equal(t, "accepted", trail.Items[0].Metadata["decision"])
	require.Equal(t, AuditRegradeRequested, trail.Items[1].Action)
	require.Equal(t, "student", trail.Items[1].ActorRole)

	graded, err := engine.audit.List(ctx, dto.AuditListRequest{Action: AuditSubmissionGraded, EntityID: submission.ID})
	require.NoError(t, err)
	require.Len(t, graded.Items, 1)
	require.EqualValues(t, 1, graded.Pagination.TotalItems)
}

func TestAuditRecordRedactsSensitiveMetadata(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	engine.audit.Record(ctx, Actor{}, "Settings.Updated", "Setting", 1, map[string]interface{}{
		"contact_email": "ops@example.com",
		"api_token":     "secret",
		"field":         "score_precision",
	})

	trail, err := engine.audit.List(ctx, dto.AuditListRequest{Action: "settings.updated"})
	require.NoError(t, err)
	require.Len(t, trail.Items, 1)
	entry := trail.Items[0]
	require.Equal(t, "system", entry.ActorRole)
	require.Equal(t, "setting", entry.EntityType)
	require.Equal(t, "***", entry.Metadata["contact_email"])
	require.Equal(t, "***", entry.Metadata["api_token"])
	require.Equal(t, "score_precision", entry.Metadata["field"])
}

func TestAuditListPaginatesAndValidates(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		engine.audit.Record(ctx, teacher, AuditAssignmentReleased, "assignment", i, nil)
	}

	page, err := engine.audit.List(ctx, dto.AuditListRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.EqualValues(t, 3, page.Pagination.TotalItems)
	require.Equal(t, 2, page.Pagination.TotalPages)

	_, err = engine.audit.List(ctx, dto.AuditListRequest{PageSize: 500})
	require.ErrorIs(t, err, ErrValidation)
}
