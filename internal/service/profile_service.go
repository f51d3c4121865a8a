package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

var avatarMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// ProfileService manages the public profile page of a user.
type ProfileService interface {
	Get(ctx context.Context, userID string) (dto.ProfileResponse, error)
	Upsert(ctx context.Context, userID string, req dto.ProfileUpsertRequest) (dto.ProfileResponse, error)
	UploadAvatar(ctx context.Context, userID string, file *multipart.FileHeader) (dto.AvatarResponse, error)
}

type profileService struct {
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	storage   FileStorage
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	maxSize   int64
}

// NewProfileService constructs a profile service. storage may be nil, in which case
// avatar uploads are rejected.
func NewProfileService(users repository.UserRepository, profiles repository.ProfileRepository, storage FileStorage, maxSizeMB int, validate *validator.Validate, logger zerolog.Logger) ProfileService {
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	return &profileService{
		users:     users,
		profiles:  profiles,
		storage:   storage,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "profile_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/sayit-api/internal/service/profile"),
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
	}
}

func (s *profileService) Get(ctx context.Context, userID string) (dto.ProfileResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return dto.ProfileResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return dto.ProfileResponse{}, err
	}
	return dto.NewProfileResponse(user, profile), nil
}

func (s *profileService) Upsert(ctx context.Context, userID string, req dto.ProfileUpsertRequest) (dto.ProfileResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ProfileResponse{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return dto.ProfileResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return dto.ProfileResponse{}, err
	}

	if req.Address != nil {
		profile.Address = s.clean(*req.Address)
	}
	if req.University != nil {
		profile.University = s.clean(*req.University)
	}
	if req.Bio != nil {
		profile.Bio = s.clean(*req.Bio)
	}
	if links := req.SocialLinks; links != nil {
		mergeLink(&profile.Facebook, links.Facebook)
		mergeLink(&profile.Instagram, links.Instagram)
		mergeLink(&profile.Twitter, links.Twitter)
		mergeLink(&profile.LinkedIn, links.LinkedIn)
	}

	if err := s.profiles.Upsert(ctx, &profile); err != nil {
		return dto.ProfileResponse{}, apperror.Internal("failed to save profile", err)
	}

	stored, err := s.loadProfile(ctx, userID)
	if err != nil {
		return dto.ProfileResponse{}, err
	}
	return dto.NewProfileResponse(user, stored), nil
}

func (s *profileService) UploadAvatar(ctx context.Context, userID string, file *multipart.FileHeader) (dto.AvatarResponse, error) {
	ctx, span := s.tracer.Start(ctx, "profile.upload_avatar", trace.WithAttributes(
		attribute.String("profile.user_id", userID),
		attribute.Int64("upload.max_bytes", s.maxSize),
	))
	defer span.End()

	if s.storage == nil {
		return dto.AvatarResponse{}, ErrAvatarStorageDisabled
	}
	if file == nil {
		return dto.AvatarResponse{}, apperror.InvalidArg("avatar file is required")
	}
	if file.Size > s.maxSize {
		span.SetStatus(codes.Error, "payload too large")
		return dto.AvatarResponse{}, ErrAvatarTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		return dto.AvatarResponse{}, apperror.InvalidArg("avatar file could not be read")
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		return dto.AvatarResponse{}, apperror.InvalidArg("avatar file could not be read")
	}
	if int64(buf.Len()) > s.maxSize {
		span.SetStatus(codes.Error, "payload too large")
		return dto.AvatarResponse{}, ErrAvatarTooLarge
	}

	detected := mimetype.Detect(buf.Bytes()).String()
	if idx := strings.Index(detected, ";"); idx >= 0 {
		detected = detected[:idx]
	}
	span.SetAttributes(attribute.String("upload.detected_mime", detected))
	if _, ok := avatarMimeTypes[detected]; !ok {
		span.SetStatus(codes.Error, "type not allowed")
		return dto.AvatarResponse{}, ErrAvatarUnsupportedType
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return dto.AvatarResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}

	url, err := s.storage.Upload(ctx, "avatar-"+userID, bytes.NewReader(buf.Bytes()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.AvatarResponse{}, apperror.Internal("failed to store avatar", err)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return dto.AvatarResponse{}, err
	}
	profile.Avatar = url
	if err := s.profiles.Upsert(ctx, &profile); err != nil {
		return dto.AvatarResponse{}, apperror.Internal("failed to save profile", err)
	}
	user.Avatar = url
	if err := s.users.Update(ctx, &user); err != nil {
		return dto.AvatarResponse{}, apperror.Internal("failed to update user", err)
	}

	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().Str("user_id", userID).Msg("avatar updated")
	return dto.AvatarResponse{URL: url}, nil
}

// loadProfile returns the stored profile, or an empty one bound to the user.
func (s *profileService) loadProfile(ctx context.Context, userID string) (models.Profile, error) {
	profile, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Profile{UserID: userID}, nil
		}
		return models.Profile{}, apperror.Internal("failed to load profile", err)
	}
	return profile, nil
}

func (s *profileService) clean(value string) string {
	return plainText(s.sanitizer, value)
}

func mergeLink(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}
