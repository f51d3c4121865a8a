package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/service"
	"github.com/noah-isme/sayit-api/internal/utils"
)

// ProfileHandler exposes profile pages and avatar uploads.
type ProfileHandler struct {
	service service.ProfileService
	logger  zerolog.Logger
}

// NewProfileHandler constructs a profile handler.
func NewProfileHandler(service service.ProfileService, logger zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		service: service,
		logger:  logger.With().Str("component", "profile_handler").Logger(),
	}
}

// Register wires profile routes.
func (h *ProfileHandler) Register(router fiber.Router) {
	router.Post("/", h.upsert)
	router.Get("/", h.mine)
	router.Get("/user/:userId", h.byUser)
	router.Post("/avatar", h.uploadAvatar)
}

func (h *ProfileHandler) upsert(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ProfileUpsertRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	profile, err := h.service.Upsert(requestContext(c), userID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to save profile")
	}

	return utils.SendSuccess(c, "profile saved", profile)
}

func (h *ProfileHandler) mine(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	return h.render(c, userID)
}

func (h *ProfileHandler) byUser(c *fiber.Ctx) error {
	target := strings.TrimSpace(c.Params("userId"))
	if target == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id required")
	}
	return h.render(c, target)
}

func (h *ProfileHandler) render(c *fiber.Ctx, userID string) error {
	profile, err := h.service.Get(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load profile")
	}
	return utils.SendSuccess(c, "profile", profile)
}

func (h *ProfileHandler) uploadAvatar(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	file, err := c.FormFile("avatar")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "avatar file is required")
	}

	result, err := h.service.UploadAvatar(requestContext(c), userID, file)
	if err != nil {
		if errors.Is(err, service.ErrAvatarTooLarge) {
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		}
		return respondError(c, h.logger, err, "avatar upload failed")
	}

	return utils.SendSuccess(c, "avatar uploaded", result)
}
