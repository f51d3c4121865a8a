package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/sayit-api/internal/models"
)

// AnonymousName is the label shown instead of a hidden sender.
const AnonymousName = "Anonymous"

// UserSummary is the denormalised user data embedded in message and relation payloads.
type UserSummary struct {
	ID       *string    `json:"id"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Avatar   string     `json:"avatar"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

// NewUserSummary converts a user model into its summary.
func NewUserSummary(user models.User) UserSummary {
	id := user.ID
	return UserSummary{
		ID:       &id,
		Name:     user.Name,
		Email:    user.Email,
		Avatar:   user.Avatar,
		IsOnline: user.IsOnline,
		LastSeen: user.LastSeen,
	}
}

// AnonymousUserSummary is the opaque placeholder used when a sender must stay hidden.
func AnonymousUserSummary() UserSummary {
	return UserSummary{Name: AnonymousName}
}

// MissingUserSummary represents a reference to a user record that no longer exists.
func MissingUserSummary(id string) UserSummary {
	return UserSummary{ID: &id, Name: "Deleted User"}
}

// SendMessageRequest is the payload to create a direct, anonymous or reply message.
type SendMessageRequest struct {
	ReceiverID     string  `json:"receiver_id" validate:"required,uuid"`
	Content        string  `json:"content" validate:"required,max=5000"`
	IsAnonymous    bool    `json:"is_anonymous"`
	ReplyTo        *string `json:"reply_to" validate:"omitempty,uuid"`
	ShareToProfile bool    `json:"share_to_profile"`
}

// ToggleShareRequest flips the share-to-profile flag of a message.
type ToggleShareRequest struct {
	Share *bool `json:"share" validate:"required"`
}

// ReplySummary is the parent message shown alongside a reply.
type ReplySummary struct {
	ID          string      `json:"id"`
	Sender      UserSummary `json:"sender"`
	Content     string      `json:"content"`
	IsAnonymous bool        `json:"is_anonymous"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MessageResponse is the viewer-specific representation of a message.
type MessageResponse struct {
	ID                string        `json:"id"`
	Conversation      *string       `json:"conversation"`
	Sender            UserSummary   `json:"sender"`
	Receiver          UserSummary   `json:"receiver"`
	Content           string        `json:"content"`
	IsAnonymous       bool          `json:"is_anonymous"`
	ParentIsAnonymous bool          `json:"parent_is_anonymous"`
	ReplyTo           *ReplySummary `json:"reply_to"`
	IsSharedToProfile bool          `json:"is_shared_to_profile"`
	SharedBy          *string       `json:"shared_by"`
	SharedAt          *time.Time    `json:"shared_at"`
	ReadAt            *time.Time    `json:"read_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ConversationResponse describes a conversation in the user's inbox.
type ConversationResponse struct {
	ID           string           `json:"id"`
	Participants []UserSummary    `json:"participants"`
	LastMessage  *MessageResponse `json:"last_message"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ReadReceiptResponse is returned to the reader after marking a message as read.
type ReadReceiptResponse struct {
	ID     string     `json:"id"`
	ReadAt *time.Time `json:"read_at"`
}

// ReadReceiptEvent is pushed to the sender under the message.read event.
type ReadReceiptEvent struct {
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
	ReadBy    string    `json:"read_by"`
}

// MessageStatsResponse aggregates relation and message counters for a user.
type MessageStatsResponse struct {
	Followers         int64 `json:"followers"`
	Following         int64 `json:"following"`
	MessagesSent      int64 `json:"messages_sent"`
	MessagesReceived  int64 `json:"messages_received"`
	AnonymousSent     int64 `json:"anonymous_sent"`
	AnonymousReceived int64 `json:"anonymous_received"`
}

// NotificationEvent is the tagged variant handed to the notification engine.
// Only the data needed to render the text is carried.
type NotificationEvent struct {
	UserID    string                  `validate:"required"`
	FromID    *string                 `validate:"omitempty"`
	Type      models.NotificationType `validate:"required,oneof=follow message reply"`
	ActorName string
	Anonymous bool
}

// Data returns the persisted payload of the variant.
func (e NotificationEvent) Data() map[string]interface{} {
	data := map[string]interface{}{}
	if e.Anonymous {
		data["anonymous"] = true
	} else if e.ActorName != "" {
		data["actor_name"] = e.ActorName
	}
	return data
}

// NotificationListQuery filters the notification listing.
type NotificationListQuery struct {
	Limit      int  `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int  `query:"offset" validate:"omitempty,min=0"`
	UnreadOnly bool `query:"unread_only"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        string                  `json:"id"`
	UserID    string                  `json:"user_id"`
	FromID    *string                 `json:"from_id"`
	Type      models.NotificationType `json:"type"`
	Text      string                  `json:"text"`
	Data      map[string]interface{}  `json:"data,omitempty"`
	IsRead    bool                    `json:"is_read"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	data := map[string]interface{}(model.Data)
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		FromID:    model.FromID,
		Type:      model.Type,
		Text:      RenderNotificationText(model.Type, data),
		Data:      data,
		IsRead:    model.IsRead,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// RenderNotificationText produces the user-facing text for a notification variant.
// Anonymous variants never mention the origin.
func RenderNotificationText(kind models.NotificationType, data map[string]interface{}) string {
	actor := "Someone"
	if name, ok := data["actor_name"].(string); ok && strings.TrimSpace(name) != "" {
		actor = name
	}
	anonymous, _ := data["anonymous"].(bool)

	switch kind {
	case models.NotificationFollow:
		return fmt.Sprintf("%s started following you.", actor)
	case models.NotificationMessage, models.NotificationReply:
		if anonymous {
			return "New anonymous message"
		}
		return fmt.Sprintf("New message from %s", actor)
	default:
		return "New notification"
	}
}

// UnreadCountResponse wraps the unread notification counter.
type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}

// MarkAllReadResponse reports how many notifications changed state.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// Realtime event names.
const (
	EventMessageNew     = "message.new"
	EventMessageRead    = "message.read"
	EventNotification   = "notification"
	EventPresenceUpdate = "presence:update"
	EventPresenceState  = "presence:state"
	EventPong           = "pong"
	EventError          = "error"
)

// Realtime client actions.
const (
	ActionJoin            = "join"
	ActionLeave           = "leave"
	ActionPresenceRequest = "presence:request"
	ActionPing            = "ping"
)

// RealtimeFrame is a server-to-client websocket frame.
type RealtimeFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// RealtimeAction is a client-to-server websocket frame.
type RealtimeAction struct {
	Action string `json:"action" validate:"required,oneof=join leave presence:request ping"`
	UserID string `json:"user_id" validate:"omitempty,max=64"`
}

// PresenceState is the online/offline state of one user.
type PresenceState struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

// RealtimeError is sent back to a client whose action was rejected.
type RealtimeError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}
