package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sayit-api/internal/config"
	"github.com/noah-isme/sayit-api/internal/database"
	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/handler"
	"github.com/noah-isme/sayit-api/internal/middleware"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/internal/router"
	"github.com/noah-isme/sayit-api/internal/service"
)

const jwtSecret = "router-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t       *testing.T
	baseURL string
	http    *http.Client
}

func (c apiClient) do(method, path, token string, payload interface{}) (int, envelope, []byte) {
	c.t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(c.t, err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	require.NoError(c.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env, raw
}

func (c apiClient) register(name string) dto.AuthResponse {
	c.t.Helper()
	status, env, _ := c.do(http.MethodPost, "/api/v1/auth/register", "", dto.RegisterRequest{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: "secret123",
	})
	require.Equal(c.t, fiber.StatusCreated, status)

	var auth dto.AuthResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &auth))
	return auth
}

func newTestApp(t *testing.T) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()

	db, err := database.ConnectSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := zerolog.Nop()
	validate := validator.New()
	cfg := config.Config{AppName: "SayIt Test", AppEnv: "test"}

	users := repository.NewUserRepository(db)
	profiles := repository.NewProfileRepository(db)
	relations := repository.NewRelationRepository(db)
	messages := repository.NewMessageRepository(db)

	bus := service.NewRealtimeBus(nil, nil, "", logger)
	presence := service.NewPresenceTracker(users, bus, logger)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), bus, validate, logger)
	conversations := service.NewConversationService(repository.NewConversationRepository(db), logger)
	messageService := service.NewMessageService(messages, users, conversations, notifications, bus, validate, logger)
	relationService := service.NewRelationService(relations, users, notifications, validate, logger)
	denylist := service.NewRedisTokenDenylist(redisClient)
	authService := service.NewAuthService(users, profiles, denylist, validate, service.AuthConfig{Secret: jwtSecret, TTL: time.Hour}, logger)
	profileService := service.NewProfileService(users, profiles, nil, 1, validate, logger)
	statsService := service.NewStatsService(relations, messages, redisClient, time.Minute, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(authService, logger),
		ProfileHandler:      handler.NewProfileHandler(profileService, logger),
		RelationHandler:     handler.NewRelationHandler(relationService, logger),
		MessageHandler:      handler.NewMessageHandler(messageService, relationService, statsService, middleware.RateLimit("messages", 100, time.Minute), logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, time.Second),
		RealtimeHandler:     handler.NewRealtimeHandler(service.NewRealtimeGateway(bus, presence, validate, logger), logger),
		JWTMiddleware:       middleware.JWTProtected(jwtSecret, denylist),
	})

	return app, mini
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func awaitFrame(t *testing.T, conn *websocket.Conn, event string) dto.RealtimeFrame {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame dto.RealtimeFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event == event {
			return frame
		}
	}
}

func compileSchema(t *testing.T, fragment string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "message_response.schema.json"))
	require.NoError(t, err)

	schema, err := jsonschema.NewCompiler().Compile("file://" + filepath.ToSlash(schemaPath) + fragment)
	require.NoError(t, err)
	return schema
}

func validateAgainst(t *testing.T, schema *jsonschema.Schema, raw []byte) {
	t.Helper()
	var document interface{}
	require.NoError(t, json.Unmarshal(raw, &document))
	require.NoError(t, schema.Validate(document))
}

func TestHealthAndMetrics(t *testing.T) {
	app, _ := newTestApp(t)
	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()
	client := apiClient{t: t, baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}

	status, env, _ := client.do(http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, env.Success)

	status, _, raw := client.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, string(raw), "http_requests_total")

	status, _, _ = client.do(http.MethodGet, "/api/v1/messages/conversations", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestMessagingFlowEndToEnd(t *testing.T) {
	app, _ := newTestApp(t)
	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()
	client := apiClient{t: t, baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}

	alice := client.register("Alice")
	bob := client.register("Bob")

	status, _, _ := client.do(http.MethodPost, "/api/v1/relations", alice.Token, dto.RelationRequest{ToUserID: bob.User.ID, Type: "follow"})
	require.Equal(t, fiber.StatusCreated, status)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/realtime/ws?token=" + bob.Token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Correlation-ID": {"e2e-bob"}})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(dto.RealtimeAction{Action: dto.ActionJoin, UserID: alice.User.ID}))
	awaitFrame(t, conn, dto.EventError)

	require.NoError(t, conn.WriteJSON(dto.RealtimeAction{Action: dto.ActionJoin}))
	state := awaitFrame(t, conn, dto.EventPresenceState)
	require.Contains(t, mustJSON(t, state.Data), bob.User.ID)

	status, env, raw := client.do(http.MethodPost, "/api/v1/messages", alice.Token, dto.SendMessageRequest{ReceiverID: bob.User.ID, Content: "hi <b>bob</b>"})
	require.Equal(t, fiber.StatusCreated, status)
	validateAgainst(t, compileSchema(t, ""), raw)

	var direct dto.MessageResponse
	require.NoError(t, json.Unmarshal(env.Data, &direct))
	require.Equal(t, "hi bob", direct.Content)
	require.NotNil(t, direct.Conversation)

	pushed := awaitFrame(t, conn, dto.EventMessageNew)
	require.Contains(t, mustJSON(t, pushed.Data), direct.ID)
	awaitFrame(t, conn, dto.EventNotification)

	status, _, _ = client.do(http.MethodPost, "/api/v1/messages", alice.Token, dto.SendMessageRequest{ReceiverID: bob.User.ID, Content: "guess who", IsAnonymous: true})
	require.Equal(t, fiber.StatusCreated, status)

	status, env, _ = client.do(http.MethodGet, "/api/v1/messages/anonymous", bob.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	var anonymous []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &anonymous))
	require.Len(t, anonymous, 1)
	validateAgainst(t, compileSchema(t, "#/definitions/message"), anonymous[0])
	require.NotContains(t, string(anonymous[0]), alice.User.ID)

	status, env, _ = client.do(http.MethodPut, "/api/v1/messages/"+direct.ID+"/read", bob.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	status, _, _ = client.do(http.MethodPut, "/api/v1/messages/"+direct.ID+"/read", alice.Token, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, env, _ = client.do(http.MethodGet, "/api/v1/notifications/unread-count", bob.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	var unread dto.UnreadCountResponse
	require.NoError(t, json.Unmarshal(env.Data, &unread))
	require.EqualValues(t, 3, unread.Unread)

	status, env, _ = client.do(http.MethodGet, "/api/v1/messages/stats", alice.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	var stats dto.MessageStatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	require.EqualValues(t, 2, stats.MessagesSent)
	require.EqualValues(t, 1, stats.AnonymousSent)
	require.EqualValues(t, 1, stats.Following)

	status, _, _ = client.do(http.MethodPost, "/api/v1/relations", bob.Token, dto.RelationRequest{ToUserID: alice.User.ID, Type: "block"})
	require.Equal(t, fiber.StatusCreated, status)
	status, env, _ = client.do(http.MethodPost, "/api/v1/messages", alice.Token, dto.SendMessageRequest{ReceiverID: bob.User.ID, Content: "still there?"})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "you have been blocked by this user", env.Message)
}

func TestNotificationStreamDeliversEvents(t *testing.T) {
	app, _ := newTestApp(t)
	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()
	client := apiClient{t: t, baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}

	alice := client.register("Alice")
	bob := client.register("Bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/notifications/stream?token="+bob.Token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ": keep-alive"))

	status, _, _ := client.do(http.MethodPost, "/api/v1/relations", alice.Token, dto.RelationRequest{ToUserID: bob.User.ID, Type: "follow"})
	require.Equal(t, fiber.StatusCreated, status)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			require.Contains(t, line, "Alice started following you.")
			return
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	app, _ := newTestApp(t)
	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()
	client := apiClient{t: t, baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}

	alice := client.register("Alice")

	status, _, _ := client.do(http.MethodGet, "/api/v1/auth/profile", alice.Token, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _, _ = client.do(http.MethodPost, "/api/v1/auth/logout", alice.Token, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _, _ = client.do(http.MethodGet, "/api/v1/auth/profile", alice.Token, nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _, _ = client.do(http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: "alice@example.com", Password: "secret123"})
	require.Equal(t, fiber.StatusOK, status)
}

func mustJSON(t *testing.T, value interface{}) string {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	return string(data)
}
