package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/config"
	"github.com/noah-isme/gema-review-engine/internal/database"
	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/handler"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
	"github.com/noah-isme/gema-review-engine/internal/router"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

const (
	teacherID = uint(900)
	adminID   = uint(901)
)

type engineApp struct {
	app         *fiber.App
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	enrollments repository.EnrollmentRepository
}

func setupEngineApp(t *testing.T) *engineApp {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	reviewRepo := repository.NewReviewAssignmentRepository(db)
	regradeRepo := repository.NewRegradeRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	audit := service.NewAuditService(repository.NewAuditRepository(db), validate, logger)
	settings := service.NewSettingsService(repository.NewSettingRepository(db), service.Settings{
		ScorePrecision:       0.5,
		DefaultPassThreshold: 6,
		MaxScore:             10,
		RegradeSLADays:       7,
		DefaultReviewWindow:  72 * time.Hour,
	}, time.Minute, audit, validate, logger)
	require.NoError(t, settings.Bootstrap(context.Background()))

	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), nil, "", nil, validate, logger)
	aggregator := service.NewGradeAggregator(assignmentRepo, submissionRepo, reviewRepo, regradeRepo, settings, notifications, audit, validate, logger)
	matcher := service.NewReviewMatcher(assignmentRepo, submissionRepo, reviewRepo, enrollmentRepo, settings, notifications, logger)
	tracker := service.NewReviewTracker(assignmentRepo, submissionRepo, reviewRepo, aggregator, settings, validate, logger)
	regrades := service.NewRegradeService(regradeRepo, submissionRepo, settings, notifications, audit, validate, logger)
	statuses := service.NewAssignmentStatusService(assignmentRepo, submissionRepo, settings, audit, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test"}, router.Dependencies{
		ReviewHandler:           handler.NewReviewHandler(matcher, tracker, logger),
		AssignmentStatusHandler: handler.NewAssignmentStatusHandler(statuses, logger),
		GradeHandler:            handler.NewGradeHandler(aggregator, logger),
		RegradeHandler:          handler.NewRegradeHandler(regrades, logger),
		SettingsHandler:         handler.NewSettingsHandler(settings, logger),
		NotificationHandler:     handler.NewNotificationHandler(notifications, logger),
		AuditHandler:            handler.NewAuditHandler(audit, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if id, err := strconv.ParseUint(c.Get("X-Test-User"), 10, 64); err == nil {
				c.Locals("user_id", uint(id))
			}
			c.Locals("user_role", c.Get("X-Test-Role"))
			return c.Next()
		},
	})

	return &engineApp{
		app:         app,
		assignments: assignmentRepo,
		submissions: submissionRepo,
		enrollments: enrollmentRepo,
	}
}

// seedClass stores an in-review assignment with one submission per student.
func (e *engineApp) seedClass(t *testing.T, studentIDs ...uint) (models.Assignment, map[uint]models.Submission) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	reviewDeadline := now.Add(48 * time.Hour)
	assignment := models.Assignment{
		CourseSectionID:        1,
		Title:                  "Essay",
		StartDate:              now.Add(-72 * time.Hour),
		SubmissionDeadline:     now.Add(-24 * time.Hour),
		ReviewDeadline:         &reviewDeadline,
		NumPeerReviewsRequired: 1,
		InstructorWeight:       60,
		PeerWeight:             40,
		MaxScore:               10,
		Status:                 models.AssignmentStatusInReview,
	}
	require.NoError(t, e.assignments.Create(ctx, &assignment))

	submissions := make(map[uint]models.Submission, len(studentIDs))
	for _, id := range studentIDs {
		require.NoError(t, e.enrollments.Create(ctx, &models.Enrollment{CourseSectionID: 1, StudentID: id, Active: true}))
		submission := models.Submission{
			AssignmentID: assignment.ID,
			StudentID:    id,
			FileURL:      "https://files.example/essay.pdf",
			SubmittedAt:  now.Add(-30 * time.Hour),
			Status:       models.SubmissionStatusSubmitted,
		}
		require.NoError(t, e.submissions.Create(ctx, &submission))
		submissions[id] = submission
	}
	return assignment, submissions
}

func (e *engineApp) do(t *testing.T, method, path string, body interface{}, userID uint, role string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	req.Header.Set("X-Test-Role", role)

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return data
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	schema, err := jsonschema.NewCompiler().Compile("file://" + path)
	require.NoError(t, err)
	return schema
}

func requireContract(t *testing.T, schema *jsonschema.Schema, body []byte) {
	t.Helper()
	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}

func TestAssignReviewsRequiresStaffAndMatchesContract(t *testing.T) {
	env := setupEngineApp(t)
	assignment, _ := env.seedClass(t, 1, 2, 3)
	path := fmt.Sprintf("/api/v1/assignments/%d/review-assignments", assignment.ID)

	resp := env.do(t, http.MethodPost, path, nil, 1, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	requireContract(t, compileSchema(t, "assign_reviews_response.schema.json"), body)

	var envelope struct {
		Data dto.AssignReviewsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, 3, envelope.Data.Created)
	require.Empty(t, envelope.Data.Shortfalls)

	resp = env.do(t, http.MethodPost, path, map[string]interface{}{"reviews_per_submission": 0}, teacherID, "teacher")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmitReviewMapsEngineErrors(t *testing.T) {
	env := setupEngineApp(t)
	assignment, _ := env.seedClass(t, 1, 2, 3)

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/assignments/%d/review-assignments", assignment.ID), nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/reviews/mine", nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var mine struct {
		Data []dto.ReviewAssignmentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &mine))
	require.NotEmpty(t, mine.Data)
	reviewPath := fmt.Sprintf("/api/v1/reviews/%d", mine.Data[0].ID)

	resp = env.do(t, http.MethodPost, reviewPath, map[string]interface{}{"overall_score": 8, "feedback": "Solid argument"}, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, reviewPath, map[string]interface{}{"overall_score": 11}, 1, "student")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, reviewPath, map[string]interface{}{"overall_score": 5}, 2, "student")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/assignments/%d/publish", assignment.ID), nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/submissions/9999", nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSubmissionViewHidesUnpublishedGradeFromAuthor(t *testing.T) {
	env := setupEngineApp(t)
	_, submissions := env.seedClass(t, 1, 2)
	submission := submissions[1]
	path := fmt.Sprintf("/api/v1/submissions/%d", submission.ID)

	resp := env.do(t, http.MethodPut, path+"/grade", map[string]interface{}{"score": 7, "feedback": "Good"}, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var staffView struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &staffView))
	require.NotNil(t, staffView.Data.FinalScore)
	require.Equal(t, string(models.SubmissionStatusGraded), staffView.Data.Status)

	resp = env.do(t, http.MethodGet, path, nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	requireContract(t, compileSchema(t, "submission_response.schema.json"), body)
	var authorView struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &authorView))
	require.Nil(t, authorView.Data.FinalScore)
	require.Empty(t, authorView.Data.Feedback)

	resp = env.do(t, http.MethodGet, path, nil, 2, "student")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRegradeEndpointsEnforceSinglePendingRequest(t *testing.T) {
	env := setupEngineApp(t)
	_, submissions := env.seedClass(t, 1)
	submission := submissions[1]

	resp := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/submissions/%d/grade", submission.ID), map[string]interface{}{"score": 5}, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := map[string]interface{}{"submission_id": submission.ID, "reason": "Rubric item 2 was missed"}
	resp = env.do(t, http.MethodPost, "/api/v1/regrades", payload, 1, "student")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created struct {
		Data dto.RegradeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &created))

	resp = env.do(t, http.MethodPost, "/api/v1/regrades", payload, 1, "student")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/regrades/%d/review", created.Data.ID), map[string]interface{}{"decision": "accept"}, 1, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/regrades/%d/complete", created.Data.ID), nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/regrades/%d/review", created.Data.ID), map[string]interface{}{"decision": "accept"}, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/submissions/%d/regrades", submission.ID), nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history struct {
		Data []dto.RegradeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &history))
	require.Len(t, history.Data, 1)
	require.Equal(t, string(models.RegradeStatusAccepted), history.Data[0].Status)
}

func TestSettingsWritesRequireAdmin(t *testing.T) {
	env := setupEngineApp(t)

	resp := env.do(t, http.MethodGet, "/api/v1/settings", nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	update := map[string]interface{}{"score_precision": 0.25}
	resp = env.do(t, http.MethodPut, "/api/v1/settings", update, teacherID, "teacher")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/settings", update, adminID, "admin")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated struct {
		Data dto.SettingsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &updated))
	require.Equal(t, 0.25, updated.Data.ScorePrecision)
}

func TestHealthIsPublic(t *testing.T) {
	env := setupEngineApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "Test", resp.Header.Get("X-Application"))
}

func TestAuditTrailAndInboxFollowRegradeDecision(t *testing.T) {
	env := setupEngineApp(t)
	_, submissions := env.seedClass(t, 1)
	submission := submissions[1]

	resp := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/submissions/%d/grade", submission.ID), map[string]interface{}{"score": 5}, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := map[string]interface{}{"submission_id": submission.ID, "reason": "Rubric item 2 was missed"}
	resp = env.do(t, http.MethodPost, "/api/v1/regrades", payload, 1, "student")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created struct {
		Data dto.RegradeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &created))

	resp = env.do(t, http.MethodPost, "/api/v1/regrades", payload, 1, "student")
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	var conflict utils.APIResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &conflict))
	require.Equal(t, "conflict", conflict.Code)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/regrades/%d/review", created.Data.ID), map[string]interface{}{"decision": "accept"}, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/audit", nil, 1, "student")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/audit?entity_type=regrade_request", nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var trail struct {
		Data dto.AuditListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &trail))
	require.Len(t, trail.Data.Items, 2)
	require.Equal(t, service.AuditRegradeDecided, trail.Data.Items[0].Action)
	require.Equal(t, teacherID, trail.Data.Items[0].ActorID)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/audit?action=%s&entity_id=%d", service.AuditSubmissionGraded, submission.ID), nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(readBody(t, resp), &trail))
	require.Len(t, trail.Data.Items, 1)

	resp = env.do(t, http.MethodGet, "/api/v1/audit?page_size=500", nil, teacherID, "teacher")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var invalid utils.APIResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &invalid))
	require.Equal(t, "validation_failed", invalid.Code)

	resp = env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var inbox struct {
		Data dto.NotificationInbox `json:"data"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &inbox))
	require.NotEmpty(t, inbox.Data.Items)
	require.Positive(t, inbox.Data.Unread)

	resp = env.do(t, http.MethodPatch, "/api/v1/notifications/read-all", nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", nil, 1, "student")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	inbox.Data = dto.NotificationInbox{}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &inbox))
	require.Empty(t, inbox.Data.Items)
	require.Zero(t, inbox.Data.Unread)
}
