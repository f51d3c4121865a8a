package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/observability"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

const notificationStreamBuffer = 16

// NotificationService persists notifications and pushes them to the target user.
type NotificationService interface {
	Create(ctx context.Context, event dto.NotificationEvent) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, query dto.NotificationListQuery) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
	Subscribe(userID string) (*RealtimeClient, func())
}

type notificationService struct {
	repo      repository.NotificationRepository
	bus       RealtimeBus
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewNotificationService constructs a notification service.
func NewNotificationService(repo repository.NotificationRepository, bus RealtimeBus, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		bus:       bus,
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/sayit-api/internal/service/notification"),
		now:       time.Now,
	}
}

func (s *notificationService) Create(ctx context.Context, event dto.NotificationEvent) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(event); err != nil {
		return dto.NotificationResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", event.UserID),
		attribute.String("notification.type", string(event.Type)),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.create", trace.WithAttributes(attrs...))
	defer span.End()

	fromID := event.FromID
	if event.Anonymous {
		fromID = nil
	}

	model := models.Notification{
		UserID: event.UserID,
		FromID: fromID,
		Type:   event.Type,
		Data:   event.Data(),
	}
	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, apperror.Internal("failed to persist notification", err)
	}

	response := dto.NewNotificationResponse(model)
	if s.bus != nil {
		s.bus.SendToUser(spanCtx, model.UserID, dto.EventNotification, response)
	}
	observability.NotificationsPublished().WithLabelValues(string(model.Type)).Inc()

	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.NotificationListQuery) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.Unauthorized("user not authenticated")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	notifications, err := s.repo.ListByUser(ctx, userID, query.Limit, query.Offset, query.UnreadOnly)
	if err != nil {
		return nil, apperror.Internal("failed to list notifications", err)
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attribute.String("notification.user_id", userID)))
	defer span.End()

	notification, err := s.repo.FindByID(spanCtx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, apperror.Internal("failed to load notification", err)
	}
	if notification.UserID != userID {
		return dto.NotificationResponse{}, ErrNotificationForbidden
	}

	if err := s.repo.MarkRead(spanCtx, &notification); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, apperror.Internal("failed to update notification", err)
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperror.Internal("failed to update notifications", err)
	}
	return updated, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperror.Internal("failed to count notifications", err)
	}
	return count, nil
}

// PurgeRead deletes read notifications older than the retention window.
func (s *notificationService) PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-olderThan)
	deleted, err := s.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, apperror.Internal("failed to purge notifications", err)
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("purged read notifications")
	}
	return deleted, nil
}

// Subscribe joins a stream-only client to the user's channel. The returned func
// releases it.
func (s *notificationService) Subscribe(userID string) (*RealtimeClient, func()) {
	client := NewRealtimeClient(notificationStreamBuffer)
	if s.bus == nil {
		client.Close()
		return client, func() {}
	}

	s.bus.Register(client)
	s.bus.Join(client, userID)

	cleanup := func() {
		s.bus.Unregister(client)
		client.Close()
	}
	return client, cleanup
}
