package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	apperrors "consultation_chat/pkg/errors"
)

func identityOf(u *domain.User) domain.Identity {
	return domain.Identity{UserID: u.ID, Role: u.Role}
}

func TestConversationService_CloseEmitsOneSystemMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.conversation.ChangeStatus(ctx, f.conv.ID, identityOf(f.professional), domain.ConversationStatusCompleted)
	req.NoError(err)
	req.Equal(domain.ConversationStatusCompleted, conv.Status)

	// One system message and one closure notification
	req.Equal(1, f.messages.count())
	_, closed := f.dispatcher.counts()
	req.Equal(1, closed)
	req.Equal(1, f.broadcaster.count(realtime.EventConversationClosed))
	req.Contains(f.audit.types(), domain.EventTypeConversationClosed)

	history, err := f.messageSvc.List(ctx, f.conv.ID, f.client.ID, 10, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(domain.MessageKindSystem, history[0].Kind)

	// A closed conversation cannot change status again
	_, err = f.conversation.ChangeStatus(ctx, f.conv.ID, identityOf(f.admin), domain.ConversationStatusCancelled)
	req.ErrorIs(err, apperrors.ErrConversationClosed)
	_, closed = f.dispatcher.counts()
	req.Equal(1, closed)
	req.Equal(1, f.messages.count())
}

func TestConversationService_NonTerminalChange(t *testing.T) {
	f := newFixture(t)
	f.conversations.setStatus(f.conv.ID, domain.ConversationStatusPending)

	conv, err := f.conversation.ChangeStatus(context.Background(), f.conv.ID, identityOf(f.admin), domain.ConversationStatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusAccepted, conv.Status)
	assert.Equal(t, 0, f.messages.count())
	_, closed := f.dispatcher.counts()
	assert.Equal(t, 0, closed)
}

func TestConversationService_ChangeStatusValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversation.ChangeStatus(ctx, f.conv.ID, identityOf(f.client), "archived")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.conversation.ChangeStatus(ctx, f.conv.ID, identityOf(f.outsider), domain.ConversationStatusCompleted)
	assert.ErrorIs(t, err, apperrors.ErrAccessDenied)

	_, err = f.conversation.ChangeStatus(ctx, uuid.New(), identityOf(f.admin), domain.ConversationStatusCompleted)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConversationService_Get(t *testing.T) {
	f := newFixture(t)

	conv, err := f.conversation.Get(context.Background(), f.conv.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, f.conv.ID, conv.ID)

	_, err = f.conversation.Get(context.Background(), f.conv.ID, f.outsider.ID)
	assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
}

func TestConversationService_ConcurrentCloseWinsOverReopen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// A parallel request commits the close right after this one passed the access check
	f.conversations.closeAfterNextRead(domain.ConversationStatusCompleted)

	_, err := f.conversation.ChangeStatus(context.Background(), f.conv.ID, identityOf(f.admin), domain.ConversationStatusAccepted)
	req.ErrorIs(err, apperrors.ErrConversationClosed)

	status, err := f.conversations.GetStatus(context.Background(), f.conv.ID)
	req.NoError(err)
	req.Equal(domain.ConversationStatusCompleted, status)

	// The losing request produces no closure side effects of its own
	req.Equal(0, f.messages.count())
	_, closed := f.dispatcher.counts()
	req.Equal(0, closed)
	req.NotContains(f.audit.types(), domain.EventTypeConversationStatus)
}
