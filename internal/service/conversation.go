package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/repository"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

type ConversationService interface {
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	// ChangeStatus переводит беседу в новый статус. Переход в терминальный статус
	// порождает одно системное сообщение и уведомление о закрытии.
	ChangeStatus(ctx context.Context, conversationID uuid.UUID, actor domain.Identity, status string) (*domain.Conversation, error)
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
	access           AccessController
	messages         MessageService
	dispatcher       Dispatcher
	broadcaster      ConversationBroadcaster
	audit            AuditService
	log              logger.Logger
}

func NewConversationService(
	conversationRepo repository.ConversationRepository,
	access AccessController,
	messages MessageService,
	dispatcher Dispatcher,
	broadcaster ConversationBroadcaster,
	audit AuditService,
	log logger.Logger,
) ConversationService {
	return &conversationService{
		conversationRepo: conversationRepo,
		access:           access,
		messages:         messages,
		dispatcher:       dispatcher,
		broadcaster:      broadcaster,
		audit:            audit,
		log:              log,
	}
}

func (s *conversationService) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conv, _, err := s.access.Authorize(ctx, userID, conversationID, false)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *conversationService) ChangeStatus(ctx context.Context, conversationID uuid.UUID, actor domain.Identity, status string) (*domain.Conversation, error) {
	if !domain.IsValidConversationStatus(status) {
		return nil, fmt.Errorf("%w: unknown conversation status %q", apperrors.ErrInvalidInput, status)
	}

	conv, _, err := s.access.Authorize(ctx, actor.UserID, conversationID, false)
	if err != nil {
		return nil, err
	}
	// Закрытая беседа не открывается повторно
	if !conv.IsOpen() {
		return nil, apperrors.ErrConversationClosed
	}

	previous, err := s.conversationRepo.UpdateStatus(ctx, conversationID, status)
	if err != nil {
		return nil, apperrors.NewStorageError("update conversation status", err)
	}
	conv.Status = status

	recordAudit(ctx, s.audit, s.log, &actor.UserID, actor.Role, conversationID, domain.EventTypeConversationStatus, map[string]interface{}{
		"from": previous,
		"to":   status,
	})

	// Предыдущий статус читается под блокировкой строки, поэтому закрытие обрабатывается один раз
	if !domain.IsTerminalStatus(previous) && domain.IsTerminalStatus(status) {
		s.onClosed(ctx, conv, actor)
	}

	return conv, nil
}

func (s *conversationService) onClosed(ctx context.Context, conv *domain.Conversation, actor domain.Identity) {
	s.log.Info("Conversation closed", "conversation_id", conv.ID, "status", conv.Status, "user_id", actor.UserID)

	if _, err := s.messages.SendSystem(ctx, conv.ID, closureText(conv.Status)); err != nil {
		s.log.Error("Failed to write closure message", "error", err, "conversation_id", conv.ID)
	}

	s.dispatcher.NotifyConversationClosed(conv)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastConversation(conv.ID, realtime.MustEnvelope(realtime.EventConversationClosed,
			realtime.ConversationClosedPayload{ConversationID: conv.ID, Status: conv.Status}), "")
	}

	recordAudit(ctx, s.audit, s.log, &actor.UserID, actor.Role, conv.ID, domain.EventTypeConversationClosed, map[string]interface{}{
		"status": conv.Status,
	})
}
