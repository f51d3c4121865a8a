package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

// RelationService manages follow/block edges and answers the block check used
// before a message is sent.
type RelationService interface {
	Set(ctx context.Context, fromID string, req dto.RelationRequest) (dto.RelationResponse, error)
	Remove(ctx context.Context, relationID, requesterID string) error
	Unfollow(ctx context.Context, fromID, toID string) error
	Unblock(ctx context.Context, fromID, toID string) error
	Status(ctx context.Context, fromID, toID string) (dto.RelationStatusResponse, error)
	Followers(ctx context.Context, userID string) ([]dto.RelationResponse, error)
	Following(ctx context.Context, userID string) ([]dto.RelationResponse, error)
	Blocked(ctx context.Context, userID string) ([]dto.RelationResponse, error)
	CheckCanMessage(ctx context.Context, senderID, receiverID string) error
}

type relationService struct {
	repo          repository.RelationRepository
	users         UserLookup
	notifications NotificationCreator
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewRelationService constructs a RelationService.
func NewRelationService(repo repository.RelationRepository, users UserLookup, notifications NotificationCreator, validate *validator.Validate, logger zerolog.Logger) RelationService {
	return &relationService{
		repo:          repo,
		users:         users,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "relation_service").Logger(),
	}
}

func (s *relationService) Set(ctx context.Context, fromID string, req dto.RelationRequest) (dto.RelationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.RelationResponse{}, err
	}
	if fromID == req.ToUserID {
		return dto.RelationResponse{}, ErrSelfRelation
	}
	relationType := models.RelationType(req.Type)

	actor, err := s.users.FindByID(ctx, fromID)
	if err != nil {
		return dto.RelationResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}
	target, err := s.users.FindByID(ctx, req.ToUserID)
	if err != nil {
		return dto.RelationResponse{}, lookupError(err, ErrUserNotFound, "failed to load user")
	}

	relation, created, err := s.upsert(ctx, fromID, req.ToUserID, relationType)
	if err != nil {
		return dto.RelationResponse{}, err
	}

	if created && relationType == models.RelationFollow && s.notifications != nil {
		from := fromID
		event := dto.NotificationEvent{
			UserID:    req.ToUserID,
			FromID:    &from,
			Type:      models.NotificationFollow,
			ActorName: actor.Name,
		}
		if _, err := s.notifications.Create(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("relation_id", relation.ID).Msg("failed to create follow notification")
		}
	}

	summary := dto.NewUserSummary(target)
	return dto.NewRelationResponse(relation, &summary), nil
}

// upsert keeps one relation per ordered pair; an existing one has its type overwritten.
func (s *relationService) upsert(ctx context.Context, fromID, toID string, relationType models.RelationType) (models.Relation, bool, error) {
	existing, err := s.repo.FindPair(ctx, fromID, toID)
	switch {
	case err == nil:
		if existing.Type != relationType {
			if err := s.repo.UpdateType(ctx, &existing, relationType); err != nil {
				return models.Relation{}, false, apperror.Internal("failed to update relation", err)
			}
			existing.Type = relationType
		}
		return existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.Relation{}, false, apperror.Internal("failed to load relation", err)
	}

	relation := models.Relation{FromID: fromID, ToID: toID, Type: relationType}
	if err := s.repo.Create(ctx, &relation); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Relation{}, false, apperror.Internal("failed to create relation", err)
		}
		existing, findErr := s.repo.FindPair(ctx, fromID, toID)
		if findErr != nil {
			return models.Relation{}, false, apperror.Internal("failed to load relation", findErr)
		}
		if err := s.repo.UpdateType(ctx, &existing, relationType); err != nil {
			return models.Relation{}, false, apperror.Internal("failed to update relation", err)
		}
		existing.Type = relationType
		return existing, false, nil
	}
	return relation, true, nil
}

func (s *relationService) Remove(ctx context.Context, relationID, requesterID string) error {
	relation, err := s.repo.FindByID(ctx, relationID)
	if err != nil {
		return lookupError(err, ErrRelationNotFound, "failed to load relation")
	}
	if relation.FromID != requesterID {
		return ErrRelationForbidden
	}
	if err := s.repo.Delete(ctx, relation.ID); err != nil {
		return apperror.Internal("failed to delete relation", err)
	}
	return nil
}

func (s *relationService) Unfollow(ctx context.Context, fromID, toID string) error {
	return s.deletePair(ctx, fromID, toID, models.RelationFollow)
}

func (s *relationService) Unblock(ctx context.Context, fromID, toID string) error {
	return s.deletePair(ctx, fromID, toID, models.RelationBlock)
}

func (s *relationService) deletePair(ctx context.Context, fromID, toID string, relationType models.RelationType) error {
	deleted, err := s.repo.DeletePair(ctx, fromID, toID, relationType)
	if err != nil {
		return apperror.Internal("failed to delete relation", err)
	}
	if deleted == 0 {
		return ErrRelationNotFound
	}
	return nil
}

func (s *relationService) Status(ctx context.Context, fromID, toID string) (dto.RelationStatusResponse, error) {
	relations, err := s.repo.ListBetween(ctx, fromID, toID)
	if err != nil {
		return dto.RelationStatusResponse{}, apperror.Internal("failed to load relations", err)
	}

	status := dto.RelationStatusResponse{Relations: make([]dto.RelationResponse, 0, len(relations))}
	for _, relation := range relations {
		status.Relations = append(status.Relations, dto.NewRelationResponse(relation, nil))
		switch {
		case relation.FromID == fromID && relation.Type == models.RelationFollow:
			status.Followed = true
		case relation.FromID == fromID && relation.Type == models.RelationBlock:
			status.Blocked = true
		case relation.FromID == toID && relation.Type == models.RelationBlock:
			status.BlockedBy = true
		}
	}
	return status, nil
}

func (s *relationService) Followers(ctx context.Context, userID string) ([]dto.RelationResponse, error) {
	relations, err := s.repo.ListTo(ctx, userID, models.RelationFollow)
	if err != nil {
		return nil, apperror.Internal("failed to list followers", err)
	}
	return s.withCounterparts(ctx, relations, func(r models.Relation) string { return r.FromID })
}

func (s *relationService) Following(ctx context.Context, userID string) ([]dto.RelationResponse, error) {
	relations, err := s.repo.ListFrom(ctx, userID, models.RelationFollow)
	if err != nil {
		return nil, apperror.Internal("failed to list following", err)
	}
	return s.withCounterparts(ctx, relations, func(r models.Relation) string { return r.ToID })
}

func (s *relationService) Blocked(ctx context.Context, userID string) ([]dto.RelationResponse, error) {
	relations, err := s.repo.ListFrom(ctx, userID, models.RelationBlock)
	if err != nil {
		return nil, apperror.Internal("failed to list blocked users", err)
	}
	return s.withCounterparts(ctx, relations, func(r models.Relation) string { return r.ToID })
}

// CheckCanMessage fails when either side has blocked the other.
func (s *relationService) CheckCanMessage(ctx context.Context, senderID, receiverID string) error {
	relations, err := s.repo.ListBetween(ctx, senderID, receiverID)
	if err != nil {
		return apperror.Internal("failed to load relations", err)
	}
	blockedBy, blocking := false, false
	for _, relation := range relations {
		if relation.Type != models.RelationBlock {
			continue
		}
		switch relation.FromID {
		case receiverID:
			blockedBy = true
		case senderID:
			blocking = true
		}
	}
	switch {
	case blockedBy:
		return ErrBlockedByTarget
	case blocking:
		return ErrTargetBlocked
	}
	return nil
}

func (s *relationService) withCounterparts(ctx context.Context, relations []models.Relation, counterpart func(models.Relation) string) ([]dto.RelationResponse, error) {
	ids := make([]string, 0, len(relations))
	for _, relation := range relations {
		ids = append(ids, counterpart(relation))
	}
	users, err := s.users.FindByIDs(ctx, uniqueStrings(ids))
	if err != nil {
		return nil, apperror.Internal("failed to load users", err)
	}

	responses := make([]dto.RelationResponse, 0, len(relations))
	for _, relation := range relations {
		summary := summaryFor(users, counterpart(relation))
		responses = append(responses, dto.NewRelationResponse(relation, &summary))
	}
	return responses, nil
}

func lookupError(err error, notFound error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return apperror.Internal(message, err)
}
