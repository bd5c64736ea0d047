package service_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/service"
	"consultation_chat/pkg/logger"
)

type fixture struct {
	client       *domain.User
	professional *domain.User
	admin        *domain.User
	outsider     *domain.User
	conv         *domain.Conversation

	users         *fakeUserRepo
	conversations *fakeConversationRepo
	messages      *fakeMessageRepo
	audit         *fakeAuditRepo
	dispatcher    *recordingDispatcher
	broadcaster   *recordingBroadcaster

	access       service.AccessController
	messageSvc   service.MessageService
	conversation service.ConversationService
}

func newUser(role string) *domain.User {
	id := uuid.New()
	return &domain.User{
		ID:          id,
		Email:       role + "@example.com",
		DisplayName: role,
		Role:        role,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		client:       newUser(domain.RoleClient),
		professional: newUser(domain.RoleProfessional),
		admin:        newUser(domain.RoleAdmin),
		outsider:     newUser(domain.RoleProfessional),
	}
	professionalID := f.professional.ID
	f.conv = &domain.Conversation{
		ID:             uuid.New(),
		ClientID:       f.client.ID,
		ProfessionalID: &professionalID,
		Status:         domain.ConversationStatusInProgress,
		UpdatedAt:      time.Now(),
	}

	f.users = newFakeUserRepo(f.client, f.professional, f.admin, f.outsider)
	f.conversations = newFakeConversationRepo(f.conv)
	f.messages = newFakeMessageRepo(f.conversations)
	f.audit = &fakeAuditRepo{}
	f.dispatcher = &recordingDispatcher{}
	f.broadcaster = &recordingBroadcaster{}

	log := logger.NewNop()
	auditSvc := service.NewAuditService(f.audit, log)
	f.access = service.NewAccessController(f.users, f.conversations, log)
	f.messageSvc = service.NewMessageService(f.messages, f.access, f.dispatcher, f.broadcaster, auditSvc, log)
	f.conversation = service.NewConversationService(f.conversations, f.access, f.messageSvc, f.dispatcher, f.broadcaster, auditSvc, log)

	return f
}
