package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"consultation_chat/internal/domain"
	"consultation_chat/pkg/logger"
)

// openStatusCondition - условие на столбец status открытой беседы.
const openStatusCondition = `status NOT IN ('` + domain.ConversationStatusCompleted + `', '` + domain.ConversationStatusCancelled + `')`

type Repositories struct {
	User         UserRepository
	Conversation ConversationRepository
	Message      MessageRepository
	Audit        AuditRepository
	RateLimit    RateLimitRepository
	Presence     PresenceRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db, log),
		Conversation: NewConversationRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Audit:        NewAuditRepository(db, log),
		RateLimit:    NewRateLimitRepository(redis, log),
		Presence:     NewPresenceRepository(redis, log),
	}
}
