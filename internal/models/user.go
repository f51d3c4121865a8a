package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an account that can message, follow and block other users.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:64;not null" json:"name"`
	Email        string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Avatar       string     `gorm:"size:512" json:"avatar"`
	IsOnline     bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeen     *time.Time `json:"last_seen"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a random identity when none was provided.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Profile holds the public, editable part of a user's page.
type Profile struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     string    `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Avatar     string    `gorm:"size:512" json:"avatar"`
	Address    string    `gorm:"size:200" json:"address"`
	University string    `gorm:"size:100" json:"university"`
	Bio        string    `gorm:"size:500" json:"bio"`
	Facebook   string    `gorm:"size:255" json:"facebook"`
	Instagram  string    `gorm:"size:255" json:"instagram"`
	Twitter    string    `gorm:"size:255" json:"twitter"`
	LinkedIn   string    `gorm:"size:255" json:"linkedin"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p *Profile) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// RelationType enumerates the directed relations between two users.
type RelationType string

const (
	RelationFollow RelationType = "follow"
	RelationBlock  RelationType = "block"
)

// Valid reports whether the relation type is supported.
func (t RelationType) Valid() bool {
	return t == RelationFollow || t == RelationBlock
}

// Relation is a directed follow/block edge, unique per (from, to).
type Relation struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	FromID    string       `gorm:"size:36;not null;uniqueIndex:idx_relation_pair" json:"from_id"`
	ToID      string       `gorm:"size:36;not null;uniqueIndex:idx_relation_pair;index" json:"to_id"`
	Type      RelationType `gorm:"size:16;not null;index" json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (r *Relation) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
