package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/models"
)

// ErrConversationExists is returned when the canonical pair already has a conversation.
var ErrConversationExists = errors.New("conversation already exists")

// ConversationRepository persists 1:1 conversations.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (models.Conversation, error)
	FindByPeerKey(ctx context.Context, peerKey string) (models.Conversation, error)
	Create(ctx context.Context, conversation *models.Conversation) error
	UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error
	ListByUser(ctx context.Context, userID string) ([]models.Conversation, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conversation).Error; err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) FindByPeerKey(ctx context.Context, peerKey string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conversation).Error; err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	err := r.db.WithContext(ctx).Create(conversation).Error
	if isDuplicateKey(err) {
		return ErrConversationExists
	}
	return err
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, id, messageID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"last_message_id": messageID, "updated_at": at}).Error
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := r.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("updated_at DESC").
		Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// MessageRepository persists messages and answers the inbox queries.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Message, error)
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateShare(ctx context.Context, id string, sharedBy *string, sharedAt *time.Time) error
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	ListAnonymousReceived(ctx context.Context, receiverID string) ([]models.Message, error)
	ListAnonymousLineageSent(ctx context.Context, senderID string) ([]models.Message, error)
	ListReplies(ctx context.Context, parentIDs []string, excludeSenderID string) ([]models.Message, error)
	ListSharedBy(ctx context.Context, userID string, limit int) ([]models.Message, error)
	CountSent(ctx context.Context, senderID string, anonymousOnly bool) (int64, error)
	CountReceived(ctx context.Context, receiverID string, anonymousOnly bool) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Message, error) {
	result := make(map[string]models.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, err
	}
	for _, message := range messages {
		result[message.ID] = message
	}
	return result, nil
}

// MarkRead stamps read_at only while it is still unset and reports whether this call did it.
func (r *messageRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Updates(map[string]interface{}{"read_at": at, "updated_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *messageRepository) UpdateShare(ctx context.Context, id string, sharedBy *string, sharedAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_shared_to_profile": sharedBy != nil,
			"shared_by":            sharedBy,
			"shared_at":            sharedAt,
		}).Error
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListAnonymousReceived(ctx context.Context, receiverID string) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND is_anonymous = ?", receiverID, true).
		Order("created_at DESC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListAnonymousLineageSent(ctx context.Context, senderID string) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("sender_id = ?", senderID).
		Where("is_anonymous = ? OR parent_is_anonymous = ?", true, true).
		Order("created_at DESC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListReplies(ctx context.Context, parentIDs []string, excludeSenderID string) ([]models.Message, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).Where("reply_to_id IN ?", parentIDs)
	if excludeSenderID != "" {
		query = query.Where("sender_id <> ?", excludeSenderID)
	}

	var messages []models.Message
	if err := query.Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListSharedBy(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("is_shared_to_profile = ? AND shared_by = ?", true, userID).
		Order("shared_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) CountSent(ctx context.Context, senderID string, anonymousOnly bool) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("sender_id = ?", senderID)
	if anonymousOnly {
		query = query.Where("is_anonymous = ?", true)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (r *messageRepository) CountReceived(ctx context.Context, receiverID string, anonymousOnly bool) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("receiver_id = ?", receiverID)
	if anonymousOnly {
		query = query.Where("is_anonymous = ?", true)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
