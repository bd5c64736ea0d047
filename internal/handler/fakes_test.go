package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAuthGate struct {
	mock.Mock
}

func (m *mockAuthGate) Authenticate(ctx context.Context, credential string) (*domain.Identity, error) {
	args := m.Called(ctx, credential)
	identity, _ := args.Get(0).(*domain.Identity)
	return identity, args.Error(1)
}

type mockAccess struct {
	mock.Mock
}

func (m *mockAccess) CanAccess(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, conversationID)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccess) IsOpen(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccess) Authorize(ctx context.Context, userID, conversationID uuid.UUID, write bool) (*domain.Conversation, string, error) {
	args := m.Called(ctx, userID, conversationID, write)
	conv, _ := args.Get(0).(*domain.Conversation)
	return conv, args.String(1), args.Error(2)
}

type mockMessages struct {
	mock.Mock
}

func (m *mockMessages) Send(ctx context.Context, conversationID, authorID uuid.UUID, body string, attachments []domain.Attachment) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, authorID, body, attachments)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) Edit(ctx context.Context, messageID int64, editorID uuid.UUID, body string) (*domain.Message, error) {
	args := m.Called(ctx, messageID, editorID, body)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) SoftDelete(ctx context.Context, messageID int64, editorID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, messageID, editorID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) List(ctx context.Context, conversationID, requesterID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, requesterID, limit, offset)
	msgs, _ := args.Get(0).([]*domain.Message)
	return msgs, args.Error(1)
}

func (m *mockMessages) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessages) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *mockMessages) SendSystem(ctx context.Context, conversationID uuid.UUID, body string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, body)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func (m *mockMessages) InitChat(ctx context.Context, conversationID, requesterID uuid.UUID) (*domain.Message, bool, error) {
	args := m.Called(ctx, conversationID, requesterID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Bool(1), args.Error(2)
}

type mockMonitor struct {
	mock.Mock
}

func (m *mockMonitor) Stats(ctx context.Context) domain.RealtimeStats {
	return m.Called(ctx).Get(0).(domain.RealtimeStats)
}

func (m *mockMonitor) TriggerCleanup() bool {
	return m.Called().Bool(0)
}

// withIdentity подменяет RequireAuth в тестах HTTP-обработчиков.
func withIdentity(identity *domain.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity != nil {
			middleware.SetIdentity(c, identity)
		}
		c.Next()
	}
}

func newMessage(conversationID, authorID uuid.UUID, body string) *domain.Message {
	return &domain.Message{
		ID:             1,
		ConversationID: conversationID,
		AuthorID:       &authorID,
		Kind:           domain.MessageKindText,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
}

type mockConversations struct {
	mock.Mock
}

func (m *mockConversations) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	conv, _ := args.Get(0).(*domain.Conversation)
	return conv, args.Error(1)
}

func (m *mockConversations) ChangeStatus(ctx context.Context, conversationID uuid.UUID, actor domain.Identity, status string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, actor, status)
	conv, _ := args.Get(0).(*domain.Conversation)
	return conv, args.Error(1)
}
