package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Relation{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()

	user := models.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		PasswordHash: "hash",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

type stepClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

type recordedPush struct {
	UserID  string
	Event   string
	Payload interface{}
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []recordedPush
}

func (p *recordingPusher) SendToUser(_ context.Context, userID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedPush{UserID: userID, Event: event, Payload: payload})
}

func (p *recordingPusher) Broadcast(_ context.Context, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedPush{Event: event, Payload: payload})
}

func (p *recordingPusher) byEvent(event string) []recordedPush {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedPush, 0)
	for _, push := range p.pushes {
		if push.Event == event {
			out = append(out, push)
		}
	}
	return out
}

type messagingFixture struct {
	db            *gorm.DB
	users         repository.UserRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	conversations ConversationService
	pusher        *recordingPusher
	service       *messageService
	clock         *stepClock
}

func newMessagingFixture(t *testing.T) *messagingFixture {
	t.Helper()

	db := setupServiceTestDB(t)
	logger := zerolog.Nop()
	validate := validator.New()

	users := repository.NewUserRepository(db)
	messages := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	conversations := NewConversationService(repository.NewConversationRepository(db), logger)
	bus := NewRealtimeBus(nil, nil, "", logger)
	notifications := NewNotificationService(notificationRepo, bus, validate, logger)
	pusher := &recordingPusher{}
	clock := newStepClock()

	svc := NewMessageService(messages, users, conversations, notifications, pusher, validate, logger).(*messageService)
	svc.now = clock.Now

	return &messagingFixture{
		db:            db,
		users:         users,
		messages:      messages,
		notifications: notificationRepo,
		conversations: conversations,
		pusher:        pusher,
		service:       svc,
		clock:         clock,
	}
}

func stringPointer(value string) *string {
	return &value
}

func isValidationErr(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
