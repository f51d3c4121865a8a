package dto

import (
	"time"

	"github.com/noah-isme/sayit-api/internal/models"
)

// RegisterRequest represents the payload to create an account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// LoginRequest represents the payload to authenticate.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateAccountRequest carries optional account changes.
type UpdateAccountRequest struct {
	Name            *string `json:"name" validate:"omitempty,min=2,max=50"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Password        *string `json:"password" validate:"omitempty,min=6,max=128"`
	PasswordConfirm *string `json:"password_confirm" validate:"omitempty"`
}

// AccountResponse is the authenticated user's own view of their account.
type AccountResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Avatar    string     `json:"avatar"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewAccountResponse converts a user model.
func NewAccountResponse(user models.User) AccountResponse {
	return AccountResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Avatar:    user.Avatar,
		IsOnline:  user.IsOnline,
		LastSeen:  user.LastSeen,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// AuthResponse is returned on register and login.
type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      AccountResponse `json:"user"`
}

// UserSearchQuery filters the user directory.
type UserSearchQuery struct {
	Query  string `query:"q" validate:"omitempty,max=100"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=50"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

// SocialLinks groups the optional profile links.
type SocialLinks struct {
	Facebook  string `json:"facebook"`
	Instagram string `json:"instagram"`
	Twitter   string `json:"twitter"`
	LinkedIn  string `json:"linkedin"`
}

// SocialLinksRequest updates individual links; omitted links are kept.
type SocialLinksRequest struct {
	Facebook  *string `json:"facebook" validate:"omitempty,url,max=255"`
	Instagram *string `json:"instagram" validate:"omitempty,url,max=255"`
	Twitter   *string `json:"twitter" validate:"omitempty,url,max=255"`
	LinkedIn  *string `json:"linkedin" validate:"omitempty,url,max=255"`
}

// ProfileUpsertRequest creates or updates the caller's profile.
type ProfileUpsertRequest struct {
	Address     *string             `json:"address" validate:"omitempty,max=200"`
	University  *string             `json:"university" validate:"omitempty,max=100"`
	Bio         *string             `json:"bio" validate:"omitempty,max=500"`
	SocialLinks *SocialLinksRequest `json:"social_links" validate:"omitempty"`
}

// ProfileResponse merges the account and the profile page.
type ProfileResponse struct {
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Avatar      string      `json:"avatar"`
	IsOnline    bool        `json:"is_online"`
	LastSeen    *time.Time  `json:"last_seen"`
	Address     string      `json:"address"`
	University  string      `json:"university"`
	Bio         string      `json:"bio"`
	SocialLinks SocialLinks `json:"social_links"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewProfileResponse combines a user and their (possibly empty) profile.
func NewProfileResponse(user models.User, profile models.Profile) ProfileResponse {
	avatar := profile.Avatar
	if avatar == "" {
		avatar = user.Avatar
	}
	updated := profile.UpdatedAt
	if updated.IsZero() {
		updated = user.UpdatedAt
	}
	return ProfileResponse{
		UserID:     user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Avatar:     avatar,
		IsOnline:   user.IsOnline,
		LastSeen:   user.LastSeen,
		Address:    profile.Address,
		University: profile.University,
		Bio:        profile.Bio,
		SocialLinks: SocialLinks{
			Facebook:  profile.Facebook,
			Instagram: profile.Instagram,
			Twitter:   profile.Twitter,
			LinkedIn:  profile.LinkedIn,
		},
		UpdatedAt: updated,
	}
}

// AvatarResponse is returned after a successful avatar upload.
type AvatarResponse struct {
	URL string `json:"url"`
}

// RelationRequest creates or overwrites a relation from the caller to another user.
type RelationRequest struct {
	ToUserID string `json:"to_user_id" validate:"required,uuid"`
	Type     string `json:"type" validate:"required,oneof=follow block"`
}

// RelationResponse represents a relation with the counterpart user expanded.
type RelationResponse struct {
	ID        string              `json:"id"`
	FromID    string              `json:"from_id"`
	ToID      string              `json:"to_id"`
	Type      models.RelationType `json:"type"`
	User      *UserSummary        `json:"user,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewRelationResponse converts a relation model.
func NewRelationResponse(model models.Relation, counterpart *UserSummary) RelationResponse {
	return RelationResponse{
		ID:        model.ID,
		FromID:    model.FromID,
		ToID:      model.ToID,
		Type:      model.Type,
		User:      counterpart,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// RelationStatusResponse reports the relations between the caller and another user.
type RelationStatusResponse struct {
	Relations []RelationResponse `json:"relations"`
	Followed  bool               `json:"followed"`
	Blocked   bool               `json:"blocked"`
	BlockedBy bool               `json:"blocked_by"`
}
