package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/middleware"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := strings.TrimSpace(c.Params(name))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:   userIDFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func withRequestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// statusForError maps an engine error kind to its HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest, "validation_failed"
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, service.ErrConcurrency):
		return fiber.StatusConflict, "concurrent_modification"
	case errors.Is(err, service.ErrState):
		return fiber.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, service.ErrStorage):
		return fiber.StatusServiceUnavailable, "storage_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

// sendServiceError writes an engine error. Server-side failures are logged and
// answered with fallback instead of the error text.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, fallback string) error {
	status, code := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		var engineErr *service.Error
		op := ""
		if errors.As(err, &engineErr) {
			op = engineErr.Op
		}
		requestLogger(logger, c).Error().Err(service.Cause(err)).Str("op", op).Msg(fallback)
		return utils.SendErrorCode(c, status, code, fallback)
	}
	return utils.SendErrorCode(c, status, code, err.Error())
}
