package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/middleware"
	"github.com/noah-isme/sayit-api/internal/utils"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

type fieldViolation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func authTokenFromContext(c *fiber.Ctx) string {
	if token, ok := c.Locals("auth_token").(string); ok {
		return token
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
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

// respondError maps service failures onto the response envelope.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error, fallback string) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]fieldViolation, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			details = append(details, fieldViolation{Field: fieldErr.Field(), Rule: fieldErr.Tag()})
		}
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", details)
	}

	switch apperror.CodeOf(err) {
	case apperror.CodeInvalidArgument:
		return utils.SendError(c, fiber.StatusBadRequest, apperror.MessageOf(err))
	case apperror.CodeNotFound:
		return utils.SendError(c, fiber.StatusNotFound, apperror.MessageOf(err))
	case apperror.CodeForbidden:
		return utils.SendError(c, fiber.StatusForbidden, apperror.MessageOf(err))
	case apperror.CodeConflict:
		return utils.SendError(c, fiber.StatusConflict, apperror.MessageOf(err))
	case apperror.CodeUnauthenticated:
		return utils.SendError(c, fiber.StatusUnauthorized, apperror.MessageOf(err))
	}

	requestLogger(logger, c).Error().Err(err).Msg(fallback)
	return utils.SendError(c, fiber.StatusInternalServerError, fallback)
}
