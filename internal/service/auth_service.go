package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

const (
	defaultTokenTTL   = 7 * 24 * time.Hour
	denylistKeyPrefix = "auth:denylist:"
	tokenIssuer       = "sayit-api"
)

// AuthConfig configures token issuance.
type AuthConfig struct {
	Secret string
	TTL    time.Duration
}

// TokenDenylist records revoked tokens until they expire.
type TokenDenylist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthService handles registration, login and account maintenance.
type AuthService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Account(ctx context.Context, userID string) (dto.AccountResponse, error)
	UpdateAccount(ctx context.Context, userID string, req dto.UpdateAccountRequest) (dto.AccountResponse, error)
	Logout(ctx context.Context, token string) error
	Search(ctx context.Context, userID string, query dto.UserSearchQuery) ([]dto.UserSummary, error)
}

type authService struct {
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	denylist  TokenDenylist
	validator *validator.Validate
	logger    zerolog.Logger
	config    AuthConfig
	hashCost  int
	now       func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(users repository.UserRepository, profiles repository.ProfileRepository, denylist TokenDenylist, validate *validator.Validate, config AuthConfig, logger zerolog.Logger) AuthService {
	if config.TTL <= 0 {
		config.TTL = defaultTokenTTL
	}
	return &authService{
		users:     users,
		profiles:  profiles,
		denylist:  denylist,
		validator: validate,
		logger:    logger.With().Str("component", "auth_service").Logger(),
		config:    config,
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
	}
}

func (s *authService) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return dto.AuthResponse{}, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AuthResponse{}, apperror.Internal("failed to check email", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return dto.AuthResponse{}, apperror.Internal("failed to hash password", err)
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AuthResponse{}, ErrEmailTaken
		}
		return dto.AuthResponse{}, apperror.Internal("failed to create user", err)
	}

	if s.profiles != nil {
		if err := s.profiles.Upsert(ctx, &models.Profile{UserID: user.ID}); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to create empty profile")
		}
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	return s.issue(user)
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, err
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, apperror.Internal("failed to load user", err)
	}
	if !user.IsActive {
		return dto.AuthResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return dto.AuthResponse{}, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *authService) Account(ctx context.Context, userID string) (dto.AccountResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return dto.AccountResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}
	return dto.NewAccountResponse(user), nil
}

func (s *authService) UpdateAccount(ctx context.Context, userID string, req dto.UpdateAccountRequest) (dto.AccountResponse, error) {
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.AccountResponse{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return dto.AccountResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil && *req.Email != user.Email {
		existing, err := s.users.FindByEmail(ctx, *req.Email)
		switch {
		case err == nil && existing.ID != user.ID:
			return dto.AccountResponse{}, ErrEmailTaken
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return dto.AccountResponse{}, apperror.Internal("failed to check email", err)
		}
		user.Email = *req.Email
	}
	if req.Password != nil {
		if req.PasswordConfirm == nil || *req.PasswordConfirm != *req.Password {
			return dto.AccountResponse{}, ErrPasswordMismatch
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.hashCost)
		if err != nil {
			return dto.AccountResponse{}, apperror.Internal("failed to hash password", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := s.users.Update(ctx, &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AccountResponse{}, ErrEmailTaken
		}
		return dto.AccountResponse{}, apperror.Internal("failed to update user", err)
	}
	return dto.NewAccountResponse(user), nil
}

// Logout revokes the token for the rest of its lifetime.
func (s *authService) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.Unauthorized("token required")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, s.keyFunc)
	if err != nil || !parsed.Valid {
		return apperror.Unauthorized("invalid token")
	}
	if s.denylist == nil {
		return nil
	}

	ttl := s.config.TTL
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.denylist.Revoke(ctx, token, ttl); err != nil {
		return apperror.Internal("failed to revoke token", err)
	}
	return nil
}

func (s *authService) Search(ctx context.Context, userID string, query dto.UserSearchQuery) ([]dto.UserSummary, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}
	users, err := s.users.Search(ctx, query.Query, userID, query.Limit, query.Offset)
	if err != nil {
		return nil, apperror.Internal("failed to search users", err)
	}

	results := make([]dto.UserSummary, 0, len(users))
	for _, user := range users {
		results = append(results, dto.NewUserSummary(user))
	}
	return results, nil
}

func (s *authService) issue(user models.User) (dto.AuthResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return dto.AuthResponse{}, apperror.Internal("failed to sign token", err)
	}

	return dto.AuthResponse{
		Token:     signed,
		ExpiresAt: expiresAt.UTC(),
		User:      dto.NewAccountResponse(user),
	}, nil
}

func (s *authService) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method")
	}
	return []byte(s.config.Secret), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type redisTokenDenylist struct {
	client *redis.Client
}

// NewRedisTokenDenylist stores revoked token digests in Redis. A nil client yields a
// denylist that never reports a token as revoked.
func NewRedisTokenDenylist(client *redis.Client) TokenDenylist {
	return &redisTokenDenylist{client: client}
}

func (d *redisTokenDenylist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if d.client == nil {
		return nil
	}
	return d.client.Set(ctx, denylistKey(token), "1", ttl).Err()
}

func (d *redisTokenDenylist) IsRevoked(ctx context.Context, token string) (bool, error) {
	if d.client == nil {
		return false, nil
	}
	exists, err := d.client.Exists(ctx, denylistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func denylistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return denylistKeyPrefix + hex.EncodeToString(sum[:])
}
