package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review-engine/internal/dto"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// SettingsHandler exposes the engine configuration store.
type SettingsHandler struct {
	service service.SettingsService
	logger  zerolog.Logger
}

// NewSettingsHandler constructs the handler.
func NewSettingsHandler(service service.SettingsService, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service: service,
		logger:  logger.With().Str("component", "settings_handler").Logger(),
	}
}

// Register binds the settings routes. Reads need staff, writes need admin.
func (h *SettingsHandler) Register(router fiber.Router, staff, admin fiber.Handler) {
	router.Get("", staff, h.get)
	router.Put("", admin, h.update)
}

func (h *SettingsHandler) get(c *fiber.Ctx) error {
	settings, err := h.service.Get(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to load settings")
	}
	return utils.SendSuccess(c, "settings", settings)
}

func (h *SettingsHandler) update(c *fiber.Ctx) error {
	var payload dto.SettingsUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	settings, err := h.service.Update(withRequestContext(c), payload, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "failed to update settings")
	}
	return utils.SendSuccess(c, "settings updated", settings)
}
