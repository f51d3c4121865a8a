package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Conversation is the materialised 1:1 thread between two distinct users.
// Participants are stored sorted so PeerKey is canonical for the unordered pair.
type Conversation struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserAID       string    `gorm:"size:36;not null;index" json:"user_a_id"`
	UserBID       string    `gorm:"size:36;not null;index" json:"user_b_id"`
	PeerKey       string    `gorm:"size:80;uniqueIndex;not null" json:"peer_key"`
	LastMessageID *string   `gorm:"size:36" json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `gorm:"index" json:"updated_at"`
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Participants returns both members in canonical order.
func (c Conversation) Participants() []string {
	return []string{c.UserAID, c.UserBID}
}

// HasParticipant reports whether userID is one of the two members.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.UserAID == userID || c.UserBID == userID)
}

// CanonicalPair sorts two identities and returns them with their peer key.
func CanonicalPair(userA, userB string) (string, string, string) {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0], pair[1], strings.Join(pair, ":")
}

// Message is a direct, anonymous or reply message between two users.
// ConversationID is nil for every message in an anonymous lineage.
type Message struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ConversationID    *string    `gorm:"size:36;index" json:"conversation_id"`
	SenderID          string     `gorm:"size:36;not null;index" json:"sender_id"`
	ReceiverID        string     `gorm:"size:36;not null;index" json:"receiver_id"`
	ReplyToID         *string    `gorm:"size:36;index" json:"reply_to_id"`
	Content           string     `gorm:"type:text;not null" json:"content"`
	IsAnonymous       bool       `gorm:"not null;default:false;index" json:"is_anonymous"`
	ParentIsAnonymous bool       `gorm:"not null;default:false" json:"parent_is_anonymous"`
	ReadAt            *time.Time `json:"read_at"`
	IsSharedToProfile bool       `gorm:"not null;default:false" json:"is_shared_to_profile"`
	SharedBy          *string    `gorm:"size:36;index" json:"shared_by"`
	SharedAt          *time.Time `json:"shared_at"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// InAnonymousLineage reports whether replies to this message must stay out of conversations.
func (m Message) InAnonymousLineage() bool {
	return m.IsAnonymous || m.ParentIsAnonymous
}

// NotificationType is the tag of the notification variant.
type NotificationType string

const (
	NotificationFollow  NotificationType = "follow"
	NotificationMessage NotificationType = "message"
	NotificationReply   NotificationType = "reply"
)

// Notification represents an event targeted to a specific user. Data carries the
// variant payload used to render text at the boundary.
type Notification struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    string            `gorm:"size:36;not null;index" json:"user_id"`
	FromID    *string           `gorm:"size:36" json:"from_id"`
	Type      NotificationType  `gorm:"size:16;not null" json:"type"`
	Data      datatypes.JSONMap `gorm:"type:json" json:"data"`
	IsRead    bool              `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
