package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/service"
	"github.com/noah-isme/sayit-api/internal/utils"
)

// MessageHandler exposes the messaging endpoints.
type MessageHandler struct {
	messages  service.MessageService
	relations service.RelationService
	stats     service.StatsService
	sendLimit fiber.Handler
	logger    zerolog.Logger
}

// NewMessageHandler constructs a message handler. sendLimit guards message creation and may be nil.
func NewMessageHandler(messages service.MessageService, relations service.RelationService, stats service.StatsService, sendLimit fiber.Handler, logger zerolog.Logger) *MessageHandler {
	if sendLimit == nil {
		sendLimit = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &MessageHandler{
		messages:  messages,
		relations: relations,
		stats:     stats,
		sendLimit: sendLimit,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register wires message routes.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Post("/", h.sendLimit, h.send)
	router.Get("/conversations", h.conversations)
	router.Get("/conversations/:conversationId/messages", h.conversationMessages)
	router.Put("/:id/read", h.markRead)
	router.Put("/:id/share", h.toggleShare)
	router.Get("/shared/:userId", h.shared)
	router.Get("/anonymous", h.anonymousReceived)
	router.Get("/sent-anonymous", h.anonymousSent)
	router.Get("/stats", h.statistics)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.SendMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	ctx := requestContext(c)
	if h.relations != nil {
		if err := h.relations.CheckCanMessage(ctx, userID, strings.TrimSpace(payload.ReceiverID)); err != nil {
			return respondError(c, h.logger, err, "failed to check relation")
		}
	}

	message, err := h.messages.Send(ctx, userID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to send message")
	}

	if h.stats != nil {
		h.stats.Invalidate(ctx, userID, strings.TrimSpace(payload.ReceiverID))
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) conversations(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	conversations, err := h.messages.ListConversations(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list conversations")
	}

	return utils.OK(c, conversations, "conversations", fiber.Map{"count": len(conversations)})
}

func (h *MessageHandler) conversationMessages(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	conversationID := strings.TrimSpace(c.Params("conversationId"))
	messages, err := h.messages.ListConversationMessages(requestContext(c), conversationID, userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list messages")
	}

	return utils.OK(c, messages, "messages", fiber.Map{"count": len(messages)})
}

func (h *MessageHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	receipt, err := h.messages.MarkAsRead(requestContext(c), strings.TrimSpace(c.Params("id")), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to mark message as read")
	}

	return utils.SendSuccess(c, "message read", receipt)
}

func (h *MessageHandler) toggleShare(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ToggleShareRequest
	if err := c.BodyParser(&payload); err != nil || payload.Share == nil {
		return utils.SendError(c, fiber.StatusBadRequest, "share flag is required")
	}

	message, err := h.messages.ToggleShare(requestContext(c), strings.TrimSpace(c.Params("id")), userID, *payload.Share)
	if err != nil {
		return respondError(c, h.logger, err, "failed to update share state")
	}

	return utils.SendSuccess(c, "share state updated", message)
}

func (h *MessageHandler) shared(c *fiber.Ctx) error {
	viewerID := userIDStringFromContext(c)
	if viewerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.messages.ListSharedByUser(requestContext(c), strings.TrimSpace(c.Params("userId")), viewerID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list shared messages")
	}

	return utils.OK(c, messages, "shared messages", fiber.Map{"count": len(messages)})
}

func (h *MessageHandler) anonymousReceived(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.messages.ListAnonymousReceived(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list anonymous messages")
	}

	return utils.OK(c, messages, "anonymous messages", fiber.Map{"count": len(messages)})
}

func (h *MessageHandler) anonymousSent(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	messages, err := h.messages.ListAnonymousSent(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list sent anonymous messages")
	}

	return utils.OK(c, messages, "sent anonymous messages", fiber.Map{"count": len(messages)})
}

func (h *MessageHandler) statistics(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}
	if h.stats == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "stats unavailable")
	}

	stats, err := h.stats.Get(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load stats")
	}

	return utils.SendSuccess(c, "message stats", stats)
}
