package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/service"
	"github.com/noah-isme/sayit-api/internal/utils"
)

// RelationHandler exposes follow and block management.
type RelationHandler struct {
	service service.RelationService
	logger  zerolog.Logger
}

// NewRelationHandler constructs a relation handler.
func NewRelationHandler(service service.RelationService, logger zerolog.Logger) *RelationHandler {
	return &RelationHandler{
		service: service,
		logger:  logger.With().Str("component", "relation_handler").Logger(),
	}
}

// Register wires relation routes.
func (h *RelationHandler) Register(router fiber.Router) {
	router.Post("/", h.set)
	router.Get("/status/:userId", h.status)
	router.Get("/followers/:userId", h.followers)
	router.Get("/following/:userId", h.following)
	router.Get("/blocked", h.blocked)
	router.Delete("/follow/:userId", h.unfollow)
	router.Delete("/block/:userId", h.unblock)
	router.Delete("/:id", h.remove)
}

func (h *RelationHandler) set(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.RelationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	relation, err := h.service.Set(requestContext(c), userID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to save relation")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "relation saved", relation)
}

func (h *RelationHandler) remove(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Remove(requestContext(c), strings.TrimSpace(c.Params("id")), userID); err != nil {
		return respondError(c, h.logger, err, "failed to remove relation")
	}

	return utils.SendSuccess(c, "relation removed", nil)
}

func (h *RelationHandler) status(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	status, err := h.service.Status(requestContext(c), userID, strings.TrimSpace(c.Params("userId")))
	if err != nil {
		return respondError(c, h.logger, err, "failed to load relation status")
	}

	return utils.SendSuccess(c, "relation status", status)
}

func (h *RelationHandler) followers(c *fiber.Ctx) error {
	return h.list(c, strings.TrimSpace(c.Params("userId")), "followers", h.service.Followers)
}

func (h *RelationHandler) following(c *fiber.Ctx) error {
	return h.list(c, strings.TrimSpace(c.Params("userId")), "following", h.service.Following)
}

func (h *RelationHandler) blocked(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	return h.list(c, userID, "blocked users", h.service.Blocked)
}

func (h *RelationHandler) list(c *fiber.Ctx, userID, label string, load func(context.Context, string) ([]dto.RelationResponse, error)) error {
	if userID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id required")
	}

	relations, err := load(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list "+label)
	}

	return utils.OK(c, relations, label, fiber.Map{"count": len(relations)})
}

func (h *RelationHandler) unfollow(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Unfollow(requestContext(c), userID, strings.TrimSpace(c.Params("userId"))); err != nil {
		return respondError(c, h.logger, err, "failed to unfollow")
	}

	return utils.SendSuccess(c, "unfollowed", nil)
}

func (h *RelationHandler) unblock(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if err := h.service.Unblock(requestContext(c), userID, strings.TrimSpace(c.Params("userId"))); err != nil {
		return respondError(c, h.logger, err, "failed to unblock")
	}

	return utils.SendSuccess(c, "unblocked", nil)
}
