package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/repository"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

const (
	MaxMessageBodyLength = 4000
	MaxAttachments       = 10
	DefaultListLimit     = 50
	MaxListLimit         = 100
)

// ConversationBroadcaster рассылает события подписчикам беседы.
type ConversationBroadcaster interface {
	BroadcastConversation(conversationID uuid.UUID, env realtime.Envelope, exceptConnID string) int
}

type MessageService interface {
	Send(ctx context.Context, conversationID, authorID uuid.UUID, body string, attachments []domain.Attachment) (*domain.Message, error)
	Edit(ctx context.Context, messageID int64, editorID uuid.UUID, body string) (*domain.Message, error)
	SoftDelete(ctx context.Context, messageID int64, editorID uuid.UUID) (*domain.Message, error)
	// List возвращает страницу от старых к новым и отмечает чужие сообщения прочитанными
	List(ctx context.Context, conversationID, requesterID uuid.UUID, limit, offset int) ([]*domain.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error
	// SendSystem пишет системное сообщение без автора, в том числе в закрытую беседу
	SendSystem(ctx context.Context, conversationID uuid.UUID, body string) (*domain.Message, error)
	// InitChat создает приветственное системное сообщение, если в беседе еще нет сообщений
	InitChat(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.Message, bool, error)
}

type messageService struct {
	messageRepo repository.MessageRepository
	access      AccessController
	dispatcher  Dispatcher
	broadcaster ConversationBroadcaster
	audit       AuditService
	validate    *validator.Validate
	log         logger.Logger
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	access AccessController,
	dispatcher Dispatcher,
	broadcaster ConversationBroadcaster,
	audit AuditService,
	log logger.Logger,
) MessageService {
	return &messageService{
		messageRepo: messageRepo,
		access:      access,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		audit:       audit,
		validate:    validator.New(),
		log:         log,
		now:         time.Now,
	}
}

func (s *messageService) validateContent(body string, attachments []domain.Attachment) error {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return fmt.Errorf("%w: message body or attachment is required", apperrors.ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxMessageBodyLength {
		return fmt.Errorf("%w: message body exceeds %d characters", apperrors.ErrInvalidInput, MaxMessageBodyLength)
	}
	if len(attachments) > MaxAttachments {
		return fmt.Errorf("%w: at most %d attachments allowed", apperrors.ErrInvalidInput, MaxAttachments)
	}
	for i := range attachments {
		if err := s.validate.Struct(attachments[i]); err != nil {
			return fmt.Errorf("%w: attachment %d: %v", apperrors.ErrInvalidInput, i, err)
		}
	}
	return nil
}

func (s *messageService) Send(ctx context.Context, conversationID, authorID uuid.UUID, body string, attachments []domain.Attachment) (*domain.Message, error) {
	if err := s.validateContent(body, attachments); err != nil {
		return nil, err
	}

	conv, role, err := s.access.Authorize(ctx, authorID, conversationID, true)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	message := &domain.Message{
		ConversationID: conversationID,
		AuthorID:       &authorID,
		Kind:           domain.MessageKindText,
		Body:           body,
		Attachments:    attachments,
		ReadBy:         domain.ReadReceipts{authorID: now},
		CreatedAt:      now,
	}

	// Сообщение и отметка автора пишутся одной вставкой; статус беседы перепроверяется в ней же
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, apperrors.NewStorageError("create message", err)
	}

	s.log.Info("Message sent", "message_id", message.ID, "conversation_id", conversationID, "user_id", authorID)

	recordAudit(ctx, s.audit, s.log, &authorID, role, conversationID, domain.EventTypeMessageSent, map[string]interface{}{
		"message_id":  message.ID,
		"attachments": len(attachments),
	})

	s.broadcast(conversationID, realtime.EventNewMessage, realtime.MessagePayload{Message: message})
	s.dispatcher.NotifyNewMessage(conv, message, authorID, role)

	return message, nil
}

// loadOwnMessage проверяет авторство и то, что беседа открыта для записи.
func (s *messageService) loadOwnMessage(ctx context.Context, messageID int64, editorID uuid.UUID) (*domain.Message, string, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, "", apperrors.NewStorageError("get message", err)
	}
	if message.IsDeleted {
		return nil, "", apperrors.ErrMessageNotFound
	}
	if !message.IsAuthoredBy(editorID) {
		return nil, "", apperrors.ErrMessageAuthor
	}

	_, role, err := s.access.Authorize(ctx, editorID, message.ConversationID, true)
	if err != nil {
		return nil, "", err
	}

	return message, role, nil
}

func (s *messageService) Edit(ctx context.Context, messageID int64, editorID uuid.UUID, body string) (*domain.Message, error) {
	message, role, err := s.loadOwnMessage(ctx, messageID, editorID)
	if err != nil {
		return nil, err
	}
	if err := s.validateContent(body, message.Attachments); err != nil {
		return nil, err
	}

	editedAt := s.now().UTC()
	if err := s.messageRepo.UpdateBody(ctx, messageID, body, editedAt); err != nil {
		return nil, apperrors.NewStorageError("update message", err)
	}

	message.Body = body
	message.IsEdited = true
	message.EditedAt = &editedAt

	recordAudit(ctx, s.audit, s.log, &editorID, role, message.ConversationID, domain.EventTypeMessageEdited, map[string]interface{}{
		"message_id": messageID,
	})
	s.broadcast(message.ConversationID, realtime.EventMessageUpdated, realtime.MessagePayload{Message: message})

	return message, nil
}

func (s *messageService) SoftDelete(ctx context.Context, messageID int64, editorID uuid.UUID) (*domain.Message, error) {
	message, role, err := s.loadOwnMessage(ctx, messageID, editorID)
	if err != nil {
		return nil, err
	}

	deletedAt := s.now().UTC()
	if err := s.messageRepo.SoftDelete(ctx, messageID, deletedAt); err != nil {
		return nil, apperrors.NewStorageError("delete message", err)
	}

	message.IsDeleted = true
	message.DeletedAt = &deletedAt

	recordAudit(ctx, s.audit, s.log, &editorID, role, message.ConversationID, domain.EventTypeMessageDeleted, map[string]interface{}{
		"message_id": messageID,
	})
	s.broadcast(message.ConversationID, realtime.EventMessageDeleted, realtime.MessagePayload{Message: message})

	return message, nil
}

func (s *messageService) List(ctx context.Context, conversationID, requesterID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	if _, _, err := s.access.Authorize(ctx, requesterID, conversationID, false); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	// Хранилище отдает последние N от новых к старым, для показа порядок обратный
	messages, err := s.messageRepo.List(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperrors.NewStorageError("list messages", err)
	}
	messages = lo.Reverse(messages)

	if err := s.markRead(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	return messages, nil
}

func (s *messageService) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	if _, _, err := s.access.Authorize(ctx, userID, conversationID, false); err != nil {
		return 0, err
	}

	count, err := s.messageRepo.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, apperrors.NewStorageError("count unread messages", err)
	}
	return count, nil
}

func (s *messageService) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	if _, _, err := s.access.Authorize(ctx, userID, conversationID, false); err != nil {
		return err
	}
	return s.markRead(ctx, conversationID, userID)
}

func (s *messageService) markRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	readAt := s.now().UTC()

	marked, err := s.messageRepo.MarkRead(ctx, conversationID, userID, readAt)
	if err != nil {
		return apperrors.NewStorageError("mark messages read", err)
	}

	if marked > 0 {
		s.broadcast(conversationID, realtime.EventMessagesRead, realtime.MessagesReadPayload{
			ConversationID: conversationID,
			UserID:         userID,
			ReadAt:         readAt,
		})
	}
	return nil
}

func (s *messageService) newSystemMessage(conversationID uuid.UUID, body string) *domain.Message {
	return &domain.Message{
		ConversationID: conversationID,
		Kind:           domain.MessageKindSystem,
		Body:           body,
		ReadBy:         domain.ReadReceipts{},
		CreatedAt:      s.now().UTC(),
	}
}

func (s *messageService) SendSystem(ctx context.Context, conversationID uuid.UUID, body string) (*domain.Message, error) {
	message := s.newSystemMessage(conversationID, body)
	if err := s.messageRepo.CreateSystem(ctx, message); err != nil {
		return nil, apperrors.NewStorageError("create system message", err)
	}

	s.broadcast(conversationID, realtime.EventNewMessage, realtime.MessagePayload{Message: message})
	return message, nil
}

const welcomeMessage = "The conversation has started. Messages are visible to both participants."

func (s *messageService) InitChat(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.Message, bool, error) {
	if _, _, err := s.access.Authorize(ctx, requesterID, conversationID, true); err != nil {
		return nil, false, err
	}

	message := s.newSystemMessage(conversationID, welcomeMessage)
	created, err := s.messageRepo.CreateIfEmpty(ctx, message)
	if err != nil {
		return nil, false, apperrors.NewStorageError("create initial message", err)
	}
	if !created {
		return nil, false, nil
	}

	s.log.Info("Conversation initialized", "conversation_id", conversationID, "user_id", requesterID)
	s.broadcast(conversationID, realtime.EventNewMessage, realtime.MessagePayload{Message: message})

	return message, true, nil
}

func (s *messageService) broadcast(conversationID uuid.UUID, eventType string, payload interface{}) {
	if s.broadcaster == nil {
		return
	}

	env, err := realtime.NewEnvelope(eventType, payload)
	if err != nil {
		s.log.Error("Failed to encode broadcast", "error", err, "event", eventType, "conversation_id", conversationID)
		return
	}
	s.broadcaster.BroadcastConversation(conversationID, env, "")
}
