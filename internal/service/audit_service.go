package service

import (
	"context"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/models"
	"github.com/noah-isme/gema-review-engine/internal/repository"
)

// Audit actions recorded by the engine.
const (
	AuditSubmissionGraded   = "submission.graded"
	AuditGradesPublished    = "grades.published"
	AuditAssignmentArchived = "assignment.archived"
	AuditAssignmentReleased = "assignment.released"
	AuditAssignmentCanceled = "assignment.cancelled"
	AuditRegradeRequested   = "regrade.requested"
	AuditRegradeDecided     = "regrade.decided"
	AuditRegradeCompleted   = "regrade.completed"
	AuditSettingsUpdated    = "settings.updated"
)

// AuditRecorder appends entries to the audit trail. Recording is best effort:
// a failed write is logged and never fails the audited operation.
type AuditRecorder interface {
	Record(ctx context.Context, actor Actor, action, entityType string, entityID uint, metadata map[string]interface{})
}

// AuditService records and lists audit entries.
type AuditService interface {
	AuditRecorder
	List(ctx context.Context, req dto.AuditListRequest) (dto.AuditListResponse, error)
}

type auditService struct {
	repo      repository.AuditRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAuditService constructs the audit trail service.
func NewAuditService(repo repository.AuditRepository, validate *validator.Validate, logger zerolog.Logger) AuditService {
	return &auditService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "audit_service").Logger(),
	}
}

func (s *auditService) Record(ctx context.Context, actor Actor, action, entityType string, entityID uint, metadata map[string]interface{}) {
	entry := models.AuditEntry{
		ActorID:    actor.ID,
		ActorRole:  auditRole(actor.Role),
		Action:     strings.ToLower(strings.TrimSpace(action)),
		EntityType: strings.ToLower(strings.TrimSpace(entityType)),
		EntityID:   entityID,
		Metadata:   redactMetadata(metadata),
	}

	if err := s.repo.Create(ctx, &entry); err != nil {
		s.logger.Error().Err(err).Str("action", entry.Action).Uint("entity_id", entityID).Msg("failed to persist audit entry")
	}
}

func (s *auditService) List(ctx context.Context, req dto.AuditListRequest) (dto.AuditListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AuditListResponse{}, validationError("audit.list", "%s", err.Error())
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := repository.AuditFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Action:     strings.TrimSpace(req.Action),
		EntityType: strings.TrimSpace(req.EntityType),
	}
	if req.ActorID > 0 {
		filter.ActorID = &req.ActorID
	}
	if req.EntityID > 0 {
		filter.EntityID = &req.EntityID
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.AuditListResponse{}, storageError("audit.list", err)
	}

	items := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewAuditEntryResponse(entry))
	}

	return dto.AuditListResponse{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       req.Page,
			PageSize:   req.PageSize,
			TotalItems: total,
			TotalPages: int(math.Ceil(float64(total) / float64(req.PageSize))),
		},
	}, nil
}

// redactMetadata drops values under keys that may carry credentials or contact details.
func redactMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	redacted := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			redacted[key] = "***"
			continue
		}
		redacted[key] = value
	}
	return redacted
}

func auditRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "" {
		return "system"
	}
	return r
}

// recordAudit is a nil-safe shorthand used by the engine services.
func recordAudit(ctx context.Context, recorder AuditRecorder, actor Actor, action, entityType string, entityID uint, metadata map[string]interface{}) {
	if recorder == nil {
		return
	}
	recorder.Record(ctx, actor, action, entityType, entityID, metadata)
}
