package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/service"
	"github.com/noah-isme/sayit-api/internal/utils"
)

// AuthHandler exposes account registration, login and self-service endpoints.
type AuthHandler struct {
	service service.AuthService
	logger  zerolog.Logger
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(service service.AuthService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger.With().Str("component", "auth_handler").Logger(),
	}
}

// RegisterPublic wires the unauthenticated routes.
func (h *AuthHandler) RegisterPublic(router fiber.Router) {
	router.Post("/register", h.register)
	router.Post("/login", h.login)
}

// Register wires the routes that need an authenticated caller.
func (h *AuthHandler) Register(router fiber.Router) {
	router.Get("/profile", h.account)
	router.Put("/profile", h.updateAccount)
	router.Post("/logout", h.logout)
	router.Get("/search", h.search)
}

func (h *AuthHandler) register(c *fiber.Ctx) error {
	var payload dto.RegisterRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Register(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to register")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "registered", result)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	var payload dto.LoginRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Login(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to login")
	}

	return utils.SendSuccess(c, "logged in", result)
}

func (h *AuthHandler) account(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	account, err := h.service.Account(requestContext(c), userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to load account")
	}

	return utils.SendSuccess(c, "account", account)
}

func (h *AuthHandler) updateAccount(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.UpdateAccountRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	account, err := h.service.UpdateAccount(requestContext(c), userID, payload)
	if err != nil {
		return respondError(c, h.logger, err, "failed to update account")
	}

	return utils.SendSuccess(c, "account updated", account)
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	if err := h.service.Logout(requestContext(c), authTokenFromContext(c)); err != nil {
		return respondError(c, h.logger, err, "failed to logout")
	}

	return utils.SendSuccess(c, "logged out", nil)
}

func (h *AuthHandler) search(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var query dto.UserSearchQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	users, err := h.service.Search(requestContext(c), userID, query)
	if err != nil {
		return respondError(c, h.logger, err, "failed to search users")
	}

	return utils.OK(c, users, "users", fiber.Map{"count": len(users), "limit": query.Limit, "offset": query.Offset})
}
