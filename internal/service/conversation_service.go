package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

// ConversationService materialises and looks up the 1:1 conversation of a user pair.
type ConversationService interface {
	Ensure(ctx context.Context, userA, userB string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string) error
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
}

type conversationService struct {
	repo   repository.ConversationRepository
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewConversationService constructs a ConversationService.
func NewConversationService(repo repository.ConversationRepository, logger zerolog.Logger) ConversationService {
	return &conversationService{
		repo:   repo,
		logger: logger.With().Str("component", "conversation_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/sayit-api/internal/service/conversation"),
		now:    time.Now,
	}
}

// Ensure returns the conversation for the unordered pair, creating it when absent.
// A concurrent creator losing the unique-key race re-reads the winner's record.
func (s *conversationService) Ensure(ctx context.Context, userA, userB string) (models.Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return models.Conversation{}, ErrSelfConversation
	}

	first, second, peerKey := models.CanonicalPair(userA, userB)
	ctx, span := s.tracer.Start(ctx, "conversation.ensure", trace.WithAttributes(attribute.String("conversation.peer_key", peerKey)))
	defer span.End()

	existing, err := s.repo.FindByPeerKey(ctx, peerKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return models.Conversation{}, apperror.Internal("failed to load conversation", err)
	}

	conversation := models.Conversation{UserAID: first, UserBID: second, PeerKey: peerKey}
	if err := s.repo.Create(ctx, &conversation); err != nil {
		if errors.Is(err, repository.ErrConversationExists) {
			s.logger.Debug().Str("peer_key", peerKey).Msg("conversation created concurrently, re-fetching")
			existing, findErr := s.repo.FindByPeerKey(ctx, peerKey)
			if findErr != nil {
				return models.Conversation{}, apperror.Internal("failed to load conversation", findErr)
			}
			return existing, nil
		}
		span.RecordError(err)
		return models.Conversation{}, apperror.Internal("failed to create conversation", err)
	}

	return conversation, nil
}

// IsParticipant reports false, not an error, for an unknown conversation.
func (s *conversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := s.repo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, apperror.Internal("failed to load conversation", err)
	}
	return conversation.HasParticipant(userID), nil
}

func (s *conversationService) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	if err := s.repo.UpdateLastMessage(ctx, conversationID, messageID, s.now().UTC()); err != nil {
		return apperror.Internal("failed to update conversation", err)
	}
	return nil
}

func (s *conversationService) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	conversation, err := s.repo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, apperror.Internal("failed to load conversation", err)
	}
	return conversation, nil
}

func (s *conversationService) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	conversations, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("failed to list conversations", err)
	}
	return conversations, nil
}
