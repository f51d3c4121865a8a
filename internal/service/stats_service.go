package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/models"
	"github.com/noah-isme/sayit-api/internal/repository"
	"github.com/noah-isme/sayit-api/pkg/apperror"
)

const defaultStatsCacheTTL = time.Minute

// StatsService summarises a user's social and messaging activity.
type StatsService interface {
	Get(ctx context.Context, userID string) (dto.MessageStatsResponse, error)
	Invalidate(ctx context.Context, userIDs ...string)
}

type statsService struct {
	relations repository.RelationRepository
	messages  repository.MessageRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	logger    zerolog.Logger
}

// NewStatsService constructs a stats service. cache may be nil.
func NewStatsService(relations repository.RelationRepository, messages repository.MessageRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) StatsService {
	if ttl <= 0 {
		ttl = defaultStatsCacheTTL
	}
	return &statsService{
		relations: relations,
		messages:  messages,
		cache:     cache,
		cacheTTL:  ttl,
		logger:    logger.With().Str("component", "stats_service").Logger(),
	}
}

func (s *statsService) Get(ctx context.Context, userID string) (dto.MessageStatsResponse, error) {
	cacheKey := statsCacheKey(userID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.MessageStatsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("user_id", userID).Msg("stats cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read stats cache")
		}
	}

	var (
		response dto.MessageStatsResponse
		err      error
	)
	if response.Followers, err = s.relations.CountTo(ctx, userID, models.RelationFollow); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count followers", err)
	}
	if response.Following, err = s.relations.CountFrom(ctx, userID, models.RelationFollow); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count following", err)
	}
	if response.MessagesSent, err = s.messages.CountSent(ctx, userID, false); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count sent messages", err)
	}
	if response.MessagesReceived, err = s.messages.CountReceived(ctx, userID, false); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count received messages", err)
	}
	if response.AnonymousSent, err = s.messages.CountSent(ctx, userID, true); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count anonymous messages", err)
	}
	if response.AnonymousReceived, err = s.messages.CountReceived(ctx, userID, true); err != nil {
		return dto.MessageStatsResponse{}, apperror.Internal("failed to count anonymous messages", err)
	}

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store stats cache")
			}
		}
	}

	return response, nil
}

// Invalidate drops cached stats so the next read recomputes them.
func (s *statsService) Invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, statsCacheKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate stats cache")
	}
}

func statsCacheKey(userID string) string {
	return fmt.Sprintf("stats:user:%s", userID)
}
