package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
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

const sharedMessagesLimit = 50

// UserPusher delivers an event to every connection joined to a user channel.
type UserPusher interface {
	SendToUser(ctx context.Context, userID, event string, payload interface{})
}

// NotificationCreator persists and pushes a notification.
type NotificationCreator interface {
	Create(ctx context.Context, event dto.NotificationEvent) (dto.NotificationResponse, error)
}

// UserLookup resolves user records for response shaping.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// MessageService creates direct, anonymous and reply messages and serves the
// viewer-specific message listings.
type MessageService interface {
	Send(ctx context.Context, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error)
	MarkAsRead(ctx context.Context, messageID, requesterID string) (dto.ReadReceiptResponse, error)
	ToggleShare(ctx context.Context, messageID, requesterID string, share bool) (dto.MessageResponse, error)
	ListConversationMessages(ctx context.Context, conversationID, viewerID string) ([]dto.MessageResponse, error)
	ListConversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error)
	ListAnonymousReceived(ctx context.Context, userID string) ([]dto.MessageResponse, error)
	ListAnonymousSent(ctx context.Context, userID string) ([]dto.MessageResponse, error)
	ListSharedByUser(ctx context.Context, userID, viewerID string) ([]dto.MessageResponse, error)
}

type messageService struct {
	messages      repository.MessageRepository
	users         UserLookup
	conversations ConversationService
	notifications NotificationCreator
	pusher        UserPusher
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewMessageService wires the message engine.
func NewMessageService(
	messages repository.MessageRepository,
	users UserLookup,
	conversations ConversationService,
	notifications NotificationCreator,
	pusher UserPusher,
	validate *validator.Validate,
	logger zerolog.Logger,
) MessageService {
	return &messageService{
		messages:      messages,
		users:         users,
		conversations: conversations,
		notifications: notifications,
		pusher:        pusher,
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "message_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/sayit-api/internal/service/message"),
		now:           time.Now,
	}
}

func (s *messageService) Send(ctx context.Context, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}
	if senderID == req.ReceiverID {
		return dto.MessageResponse{}, ErrSelfMessage
	}

	content := plainText(s.sanitizer, req.Content)
	if content == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}

	attrs := []attribute.KeyValue{
		attribute.String("message.sender_id", senderID),
		attribute.String("message.receiver_id", req.ReceiverID),
		attribute.Bool("message.anonymous", req.IsAnonymous),
	}
	ctx, span := s.tracer.Start(ctx, "messages.send", trace.WithAttributes(attrs...))
	defer span.End()

	sender, err := s.users.FindByID(ctx, senderID)
	if err != nil {
		return dto.MessageResponse{}, lookupError(err, ErrUserNotFound, "failed to load sender")
	}
	if _, err := s.users.FindByID(ctx, req.ReceiverID); err != nil {
		return dto.MessageResponse{}, lookupError(err, ErrReceiverNotFound, "failed to load receiver")
	}

	var parent *models.Message
	replyToAnonymous := false
	if req.ReplyTo != nil && *req.ReplyTo != "" {
		found, err := s.messages.FindByID(ctx, *req.ReplyTo)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.MessageResponse{}, ErrReplyTargetNotFound
			}
			span.RecordError(err)
			return dto.MessageResponse{}, apperror.Internal("failed to load reply target", err)
		}
		parent = &found
		replyToAnonymous = found.InAnonymousLineage()
	}

	var conversationID *string
	if !req.IsAnonymous && !replyToAnonymous {
		conversation, err := s.conversations.Ensure(ctx, senderID, req.ReceiverID)
		if err != nil {
			span.RecordError(err)
			return dto.MessageResponse{}, err
		}
		if parent != nil && (parent.ConversationID == nil || *parent.ConversationID != conversation.ID) {
			return dto.MessageResponse{}, ErrReplyTargetNotInConversation
		}
		id := conversation.ID
		conversationID = &id
	}

	now := s.now().UTC()
	model := models.Message{
		ConversationID:    conversationID,
		SenderID:          senderID,
		ReceiverID:        req.ReceiverID,
		Content:           content,
		IsAnonymous:       req.IsAnonymous,
		ParentIsAnonymous: replyToAnonymous || req.IsAnonymous,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if parent != nil {
		parentID := parent.ID
		model.ReplyToID = &parentID
	}
	if req.ShareToProfile {
		sharedBy := senderID
		model.IsSharedToProfile = true
		model.SharedBy = &sharedBy
		model.SharedAt = &now
	}

	if err := s.messages.Create(ctx, &model); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, apperror.Internal("failed to persist message", err)
	}

	if conversationID != nil {
		if err := s.conversations.SetLastMessage(ctx, *conversationID, model.ID); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", *conversationID).Msg("failed to update conversation last message")
		}
	}
	observability.MessagesSent().WithLabelValues(messageKind(model)).Inc()

	views, err := s.buildViews(ctx, []models.Message{model})
	if err != nil {
		return dto.MessageResponse{}, err
	}
	forReceiver := MaskAnonymous(views[0], model.ReceiverID)

	notificationType := models.NotificationMessage
	if parent != nil {
		notificationType = models.NotificationReply
	}
	if s.notifications != nil {
		fromID := senderID
		event := dto.NotificationEvent{
			UserID:    model.ReceiverID,
			FromID:    &fromID,
			Type:      notificationType,
			ActorName: sender.Name,
			Anonymous: model.IsAnonymous,
		}
		if _, err := s.notifications.Create(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("message_id", model.ID).Msg("failed to create message notification")
		}
	}

	if s.pusher != nil {
		s.pusher.SendToUser(ctx, model.ReceiverID, dto.EventMessageNew, forReceiver)
	}

	return forReceiver, nil
}

func (s *messageService) MarkAsRead(ctx context.Context, messageID, requesterID string) (dto.ReadReceiptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messages.mark_read", trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	message, err := s.findMessage(ctx, messageID)
	if err != nil {
		return dto.ReadReceiptResponse{}, err
	}
	if message.ReceiverID != requesterID {
		return dto.ReadReceiptResponse{}, ErrMessageForbidden
	}
	if message.ReadAt != nil {
		return dto.ReadReceiptResponse{ID: message.ID, ReadAt: message.ReadAt}, nil
	}

	readAt := s.now().UTC()
	changed, err := s.messages.MarkRead(ctx, message.ID, readAt)
	if err != nil {
		span.RecordError(err)
		return dto.ReadReceiptResponse{}, apperror.Internal("failed to mark message as read", err)
	}
	if !changed {
		// Another call won the transition; report its timestamp.
		current, err := s.findMessage(ctx, messageID)
		if err != nil {
			return dto.ReadReceiptResponse{}, err
		}
		return dto.ReadReceiptResponse{ID: current.ID, ReadAt: current.ReadAt}, nil
	}

	if s.pusher != nil {
		s.pusher.SendToUser(ctx, message.SenderID, dto.EventMessageRead, dto.ReadReceiptEvent{
			MessageID: message.ID,
			ReadAt:    readAt,
			ReadBy:    requesterID,
		})
	}

	return dto.ReadReceiptResponse{ID: message.ID, ReadAt: &readAt}, nil
}

func (s *messageService) ToggleShare(ctx context.Context, messageID, requesterID string, share bool) (dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messages.toggle_share", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.Bool("message.share", share),
	))
	defer span.End()

	message, err := s.findMessage(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if message.SenderID != requesterID && message.ReceiverID != requesterID {
		return dto.MessageResponse{}, ErrMessageForbidden
	}

	alreadyShared := message.IsSharedToProfile && message.SharedBy != nil && *message.SharedBy == requesterID
	switch {
	case share && !alreadyShared:
		sharedBy := requesterID
		sharedAt := s.now().UTC()
		if err := s.messages.UpdateShare(ctx, message.ID, &sharedBy, &sharedAt); err != nil {
			span.RecordError(err)
			return dto.MessageResponse{}, apperror.Internal("failed to share message", err)
		}
		message.IsSharedToProfile = true
		message.SharedBy = &sharedBy
		message.SharedAt = &sharedAt
	case !share && message.IsSharedToProfile:
		if err := s.messages.UpdateShare(ctx, message.ID, nil, nil); err != nil {
			span.RecordError(err)
			return dto.MessageResponse{}, apperror.Internal("failed to unshare message", err)
		}
		message.IsSharedToProfile = false
		message.SharedBy = nil
		message.SharedAt = nil
	}

	views, err := s.buildViews(ctx, []models.Message{message})
	if err != nil {
		return dto.MessageResponse{}, err
	}
	return MaskAnonymous(views[0], requesterID), nil
}

func (s *messageService) ListConversationMessages(ctx context.Context, conversationID, viewerID string) ([]dto.MessageResponse, error) {
	conversation, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(viewerID) {
		return nil, ErrConversationForbidden
	}

	messages, err := s.messages.ListByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, apperror.Internal("failed to list messages", err)
	}
	return s.maskedViews(ctx, messages, viewerID)
}

func (s *messageService) ListConversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return []dto.ConversationResponse{}, nil
	}

	userIDs := make([]string, 0, len(conversations)*2)
	lastIDs := make([]string, 0, len(conversations))
	for _, conversation := range conversations {
		userIDs = append(userIDs, conversation.Participants()...)
		if conversation.LastMessageID != nil {
			lastIDs = append(lastIDs, *conversation.LastMessageID)
		}
	}

	users, err := s.users.FindByIDs(ctx, uniqueStrings(userIDs))
	if err != nil {
		return nil, apperror.Internal("failed to load participants", err)
	}
	lastMessages, err := s.messages.FindByIDs(ctx, lastIDs)
	if err != nil {
		return nil, apperror.Internal("failed to load last messages", err)
	}

	ordered := make([]models.Message, 0, len(lastMessages))
	for _, id := range lastIDs {
		if message, ok := lastMessages[id]; ok {
			ordered = append(ordered, message)
		}
	}
	views, err := s.maskedViews(ctx, ordered, userID)
	if err != nil {
		return nil, err
	}
	viewByID := make(map[string]dto.MessageResponse, len(views))
	for _, view := range views {
		viewByID[view.ID] = view
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		participants := make([]dto.UserSummary, 0, 2)
		for _, id := range conversation.Participants() {
			participants = append(participants, summaryFor(users, id))
		}
		response := dto.ConversationResponse{
			ID:           conversation.ID,
			Participants: participants,
			CreatedAt:    conversation.CreatedAt,
			UpdatedAt:    conversation.UpdatedAt,
		}
		if conversation.LastMessageID != nil {
			if view, ok := viewByID[*conversation.LastMessageID]; ok {
				last := view
				response.LastMessage = &last
			}
		}
		responses = append(responses, response)
	}
	return responses, nil
}

func (s *messageService) ListAnonymousReceived(ctx context.Context, userID string) ([]dto.MessageResponse, error) {
	roots, err := s.messages.ListAnonymousReceived(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("failed to list anonymous messages", err)
	}
	replies, err := s.messages.ListReplies(ctx, messageIDs(roots), "")
	if err != nil {
		return nil, apperror.Internal("failed to list replies", err)
	}

	merged := sortNewestFirst(dedupeMessages(roots, replies))
	return s.maskedViews(ctx, merged, userID)
}

// ListAnonymousSent merges the caller's anonymous-lineage messages with replies from
// others to the caller's anonymous roots, deduplicated and newest first.
func (s *messageService) ListAnonymousSent(ctx context.Context, userID string) ([]dto.MessageResponse, error) {
	sent, err := s.messages.ListAnonymousLineageSent(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("failed to list sent anonymous messages", err)
	}

	rootIDs := make([]string, 0, len(sent))
	for _, message := range sent {
		if message.ReplyToID == nil {
			rootIDs = append(rootIDs, message.ID)
		}
	}
	replies, err := s.messages.ListReplies(ctx, rootIDs, userID)
	if err != nil {
		return nil, apperror.Internal("failed to list replies", err)
	}

	merged := sortNewestFirst(dedupeMessages(sent, replies))
	return s.maskedViews(ctx, merged, userID)
}

func (s *messageService) ListSharedByUser(ctx context.Context, userID, viewerID string) ([]dto.MessageResponse, error) {
	shared, err := s.messages.ListSharedBy(ctx, userID, sharedMessagesLimit)
	if err != nil {
		return nil, apperror.Internal("failed to list shared messages", err)
	}
	replies, err := s.messages.ListReplies(ctx, messageIDs(shared), "")
	if err != nil {
		return nil, apperror.Internal("failed to list replies", err)
	}

	return s.maskedViews(ctx, dedupeMessages(shared, replies), viewerID)
}

// MaskAnonymous returns the view of a message as seen by viewerID. Anonymous senders
// are replaced by a placeholder for everyone but themselves; the input is not modified.
func MaskAnonymous(view dto.MessageResponse, viewerID string) dto.MessageResponse {
	masked := view
	if view.IsAnonymous && !isViewer(view.Sender, viewerID) {
		senderID := view.Sender.ID
		masked.Sender = dto.AnonymousUserSummary()
		if view.SharedBy != nil && senderID != nil && *view.SharedBy == *senderID {
			masked.SharedBy = nil
		}
	}
	if view.ReplyTo != nil && view.ReplyTo.IsAnonymous && !isViewer(view.ReplyTo.Sender, viewerID) {
		reply := *view.ReplyTo
		reply.Sender = dto.AnonymousUserSummary()
		masked.ReplyTo = &reply
	}
	return masked
}

func isViewer(summary dto.UserSummary, viewerID string) bool {
	return viewerID != "" && summary.ID != nil && *summary.ID == viewerID
}

func (s *messageService) maskedViews(ctx context.Context, messages []models.Message, viewerID string) ([]dto.MessageResponse, error) {
	views, err := s.buildViews(ctx, messages)
	if err != nil {
		return nil, err
	}
	for i := range views {
		views[i] = MaskAnonymous(views[i], viewerID)
	}
	return views, nil
}

// buildViews expands sender, receiver and reply target of each message.
func (s *messageService) buildViews(ctx context.Context, messages []models.Message) ([]dto.MessageResponse, error) {
	if len(messages) == 0 {
		return []dto.MessageResponse{}, nil
	}

	known := make(map[string]models.Message, len(messages))
	for _, message := range messages {
		known[message.ID] = message
	}

	parentIDs := make([]string, 0)
	for _, message := range messages {
		if message.ReplyToID == nil {
			continue
		}
		if _, ok := known[*message.ReplyToID]; !ok {
			parentIDs = append(parentIDs, *message.ReplyToID)
		}
	}
	parents, err := s.messages.FindByIDs(ctx, uniqueStrings(parentIDs))
	if err != nil {
		return nil, apperror.Internal("failed to load reply targets", err)
	}
	for id, parent := range parents {
		known[id] = parent
	}

	userIDs := make([]string, 0, len(messages)*2)
	for _, message := range messages {
		userIDs = append(userIDs, message.SenderID, message.ReceiverID)
		if message.ReplyToID != nil {
			if parent, ok := known[*message.ReplyToID]; ok {
				userIDs = append(userIDs, parent.SenderID)
			}
		}
	}
	users, err := s.users.FindByIDs(ctx, uniqueStrings(userIDs))
	if err != nil {
		return nil, apperror.Internal("failed to load users", err)
	}

	views := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		view := dto.MessageResponse{
			ID:                message.ID,
			Conversation:      message.ConversationID,
			Sender:            summaryFor(users, message.SenderID),
			Receiver:          summaryFor(users, message.ReceiverID),
			Content:           message.Content,
			IsAnonymous:       message.IsAnonymous,
			ParentIsAnonymous: message.ParentIsAnonymous,
			IsSharedToProfile: message.IsSharedToProfile,
			SharedBy:          message.SharedBy,
			SharedAt:          message.SharedAt,
			ReadAt:            message.ReadAt,
			CreatedAt:         message.CreatedAt,
			UpdatedAt:         message.UpdatedAt,
		}
		if message.ReplyToID != nil {
			if parent, ok := known[*message.ReplyToID]; ok {
				view.ReplyTo = &dto.ReplySummary{
					ID:          parent.ID,
					Sender:      summaryFor(users, parent.SenderID),
					Content:     parent.Content,
					IsAnonymous: parent.IsAnonymous,
					CreatedAt:   parent.CreatedAt,
				}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *messageService) findMessage(ctx context.Context, id string) (models.Message, error) {
	message, err := s.messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, apperror.Internal("failed to load message", err)
	}
	return message, nil
}

func summaryFor(users map[string]models.User, id string) dto.UserSummary {
	if user, ok := users[id]; ok {
		return dto.NewUserSummary(user)
	}
	return dto.MissingUserSummary(id)
}

func messageKind(message models.Message) string {
	switch {
	case message.ReplyToID != nil:
		return "reply"
	case message.IsAnonymous:
		return "anonymous"
	default:
		return "direct"
	}
}

func messageIDs(messages []models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids
}

// dedupeMessages concatenates the groups keeping the first occurrence of each id.
func dedupeMessages(groups ...[]models.Message) []models.Message {
	seen := make(map[string]struct{})
	merged := make([]models.Message, 0)
	for _, group := range groups {
		for _, message := range group {
			if _, ok := seen[message.ID]; ok {
				continue
			}
			seen[message.ID] = struct{}{}
			merged = append(merged, message)
		}
	}
	return merged
}

func sortNewestFirst(messages []models.Message) []models.Message {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID > messages[j].ID
		}
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	return messages
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
