package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/repository"
	"consultation_chat/pkg/logger"
)

type AuditService interface {
	LogEvent(ctx context.Context, actorUserID *uuid.UUID, actorRole string, conversationID *uuid.UUID, eventType string, payload map[string]interface{}) error
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       log,
	}
}

func (s *auditService) LogEvent(ctx context.Context, actorUserID *uuid.UUID, actorRole string, conversationID *uuid.UUID, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	auditLog := &domain.AuditLog{
		EventTime:      time.Now(),
		ActorUserID:    actorUserID,
		ActorRole:      actorRole,
		ConversationID: conversationID,
		EventType:      eventType,
		Payload:        payload,
	}

	return s.auditRepo.CreateLog(ctx, auditLog)
}

// recordAudit пишет событие аудита; сбой только логируется и не прерывает операцию.
func recordAudit(ctx context.Context, audit AuditService, log logger.Logger, actorUserID *uuid.UUID, actorRole string, conversationID uuid.UUID, eventType string, payload map[string]interface{}) {
	if audit == nil {
		return
	}
	if err := audit.LogEvent(ctx, actorUserID, actorRole, &conversationID, eventType, payload); err != nil {
		log.Warn("Failed to write audit event", "error", err, "event_type", eventType, "conversation_id", conversationID)
	}
}
