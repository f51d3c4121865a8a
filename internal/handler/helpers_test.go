package handler

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sayit-api/internal/service"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

func TestRespondErrorMapsCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrEmptyContent, fiber.StatusBadRequest},
		{service.ErrMessageNotFound, fiber.StatusNotFound},
		{service.ErrConversationForbidden, fiber.StatusForbidden},
		{service.ErrSelfMessage, fiber.StatusConflict},
		{service.ErrInvalidCredentials, fiber.StatusUnauthorized},
		{apperror.Internal("failed to persist message", errors.New("disk full")), fiber.StatusInternalServerError},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error {
			return respondError(c, zerolog.Nop(), tc.err, "request failed")
		})

		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
		require.NoError(t, err)
		require.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
	}
}

func TestUserIDStringFromContextIgnoresOtherTypes(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		c.Locals("user_id", 42)
		require.Empty(t, userIDStringFromContext(c))
		c.Locals("user_id", " abc ")
		require.Equal(t, "abc", userIDStringFromContext(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
