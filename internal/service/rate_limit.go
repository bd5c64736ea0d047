package service

import (
	"context"
	"fmt"
	"time"

	"consultation_chat/internal/repository"
	"consultation_chat/pkg/logger"
)

type RateLimitService interface {
	// Allow учитывает обращение по ключу и сообщает, не превышен ли лимит в окне
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 {
		return true, 0, nil
	}

	allowed, remaining, err := s.rateLimitRepo.Allow(ctx, rateLimitKey(key, window), limit, window)
	if err != nil {
		return false, 0, err
	}
	if !allowed {
		s.log.Debug("Rate limit exceeded", "key", key, "limit", limit)
	}
	return allowed, remaining, nil
}

// rateLimitKey привязывает счетчик к текущему окну.
func rateLimitKey(key string, window time.Duration) string {
	bucket := time.Now().UnixNano() / int64(window)
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}
