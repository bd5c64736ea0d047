package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"consultation_chat/pkg/logger"
)

const presenceTTL = 24 * time.Hour

// PresenceRepository зеркалирует онлайн-статус пользователей в Redis для соседних сервисов
type PresenceRepository interface {
	SetOnline(ctx context.Context, userID uuid.UUID, at time.Time) error
	SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type presenceRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewPresenceRepository(redis *redis.Client, log logger.Logger) PresenceRepository {
	return &presenceRepository{redis: redis, log: log}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

func (r *presenceRepository) SetOnline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.set(ctx, userID, true, at)
}

func (r *presenceRepository) SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.set(ctx, userID, false, at)
}

func (r *presenceRepository) set(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	key := presenceKey(userID)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "online", online, "last_seen", at.UTC().Format(time.RFC3339))
		pipe.Expire(ctx, key, presenceTTL)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to update presence", "error", err, "user_id", userID, "online", online)
		return err
	}

	return nil
}
