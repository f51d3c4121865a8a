package middleware_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sayit-api/internal/middleware"
)

const secret = "middleware-secret"

type staticRevocations map[string]bool

func (r staticRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	return r[token], nil
}

func signToken(t *testing.T, subject string, expires time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func protectedApp(revocations middleware.RevocationChecker) *fiber.App {
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(secret, revocations), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func perform(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestJWTProtectedAcceptsBearerAndQueryToken(t *testing.T) {
	app := protectedApp(nil)
	token := signToken(t, "user-1", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, body := perform(t, app, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "user-1", body)

	resp, body = perform(t, app, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "user-1", body)
}

func TestJWTProtectedRejectsInvalidTokens(t *testing.T) {
	app := protectedApp(nil)

	resp, _ := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, _ = perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	expired := signToken(t, "user-1", time.Now().Add(-time.Minute))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, _ = perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	noSubject := signToken(t, "", time.Now().Add(time.Hour))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+noSubject)
	resp, _ = perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedRejectsRevokedToken(t *testing.T) {
	token := signToken(t, "user-1", time.Now().Add(time.Hour))
	app := protectedApp(staticRevocations{token: true})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitKeysByUser(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User"))
		return c.Next()
	})
	app.Post("/", middleware.RateLimit("messages", 2, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusCreated, send("alice"))
	require.Equal(t, fiber.StatusCreated, send("alice"))
	require.Equal(t, fiber.StatusTooManyRequests, send("alice"))
	require.Equal(t, fiber.StatusCreated, send("bob"))
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get("X-User"); user != "" {
			c.Locals("user_id", user)
		}
		return c.Next()
	})
	app.Post("/", middleware.RateLimit("messages", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		resp, body := perform(t, app, req)
		return resp.StatusCode, body
	}

	status, _ := send("")
	require.Equal(t, fiber.StatusCreated, status)
	status, body := send("")
	require.Equal(t, fiber.StatusTooManyRequests, status)
	require.Contains(t, body, "too many requests")

	status, _ = send("alice")
	require.Equal(t, fiber.StatusCreated, status)
}
