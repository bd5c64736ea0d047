package service

import (
	"context"

	"github.com/google/uuid"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/repository"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

// AccessController решает, может ли пользователь читать и писать в беседу.
// Состояние беседы не кешируется: каждое решение читает хранилище.
type AccessController interface {
	CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (bool, error)
	IsOpen(ctx context.Context, conversationID uuid.UUID) (bool, error)
	// Authorize возвращает беседу и роль пользователя либо ErrAccessDenied / ErrConversationClosed
	Authorize(ctx context.Context, userID, conversationID uuid.UUID, write bool) (*domain.Conversation, string, error)
}

type accessController struct {
	userRepo         repository.UserRepository
	conversationRepo repository.ConversationRepository
	log              logger.Logger
}

func NewAccessController(userRepo repository.UserRepository, conversationRepo repository.ConversationRepository, log logger.Logger) AccessController {
	return &accessController{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		log:              log,
	}
}

// decideAccess: администратор, затем клиент, затем назначенный специалист.
func decideAccess(role string, userID uuid.UUID, conv *domain.Conversation) bool {
	switch {
	case domain.IsAdministrativeRole(role):
		return true
	case conv.IsClient(userID):
		return true
	case conv.IsProfessional(userID):
		return true
	default:
		return false
	}
}

func (s *accessController) CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return false, apperrors.NewStorageError("get conversation", err)
	}

	role, err := s.userRepo.GetRole(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, apperrors.NewStorageError("get user role", err)
	}

	return decideAccess(role, userID, conv), nil
}

func (s *accessController) IsOpen(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	status, err := s.conversationRepo.GetStatus(ctx, conversationID)
	if err != nil {
		return false, apperrors.NewStorageError("get conversation status", err)
	}
	return !domain.IsTerminalStatus(status), nil
}

func (s *accessController) Authorize(ctx context.Context, userID, conversationID uuid.UUID, write bool) (*domain.Conversation, string, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, "", apperrors.NewStorageError("get conversation", err)
	}

	role, err := s.userRepo.GetRole(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, "", apperrors.ErrAccessDenied
		}
		return nil, "", apperrors.NewStorageError("get user role", err)
	}

	if !decideAccess(role, userID, conv) {
		s.log.Debug("Conversation access denied", "user_id", userID, "conversation_id", conversationID, "role", role)
		return nil, "", apperrors.ErrAccessDenied
	}

	if write && !conv.IsOpen() {
		return nil, "", apperrors.ErrConversationClosed
	}

	return conv, role, nil
}
