package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"consultation_chat/internal/domain"
	"consultation_chat/internal/realtime"
	"consultation_chat/internal/service"
	apperrors "consultation_chat/pkg/errors"
)

var errStoreDown = errors.New("connection refused")

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
	err   error
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetRole(ctx context.Context, id uuid.UUID) (string, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

type fakeConversationRepo struct {
	mu    sync.Mutex
	convs map[uuid.UUID]*domain.Conversation
	// afterGet вызывается после чтения беседы: так тест вклинивает конкурентную запись
	afterGet func(id uuid.UUID)
}

func newFakeConversationRepo(convs ...*domain.Conversation) *fakeConversationRepo {
	r := &fakeConversationRepo{convs: make(map[uuid.UUID]*domain.Conversation)}
	for _, c := range convs {
		r.convs[c.ID] = c
	}
	return r
}

func (r *fakeConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	c, ok := r.convs[id]
	var clone domain.Conversation
	if ok {
		clone = *c
	}
	hook := r.afterGet
	r.mu.Unlock()

	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	if hook != nil {
		hook(id)
	}
	return &clone, nil
}

// closeAfterNextRead закрывает беседу сразу после следующего чтения, как будто
// параллельный запрос успел зафиксировать закрытие.
func (r *fakeConversationRepo) closeAfterNextRead(status string) {
	var once sync.Once
	r.mu.Lock()
	r.afterGet = func(id uuid.UUID) {
		once.Do(func() { r.setStatus(id, status) })
	}
	r.mu.Unlock()
}

func (r *fakeConversationRepo) isOpen(id uuid.UUID) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return false, false
	}
	return c.IsOpen(), true
}

func (r *fakeConversationRepo) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func (r *fakeConversationRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return "", apperrors.ErrConversationNotFound
	}
	if !c.IsOpen() {
		return "", apperrors.ErrConversationClosed
	}
	previous := c.Status
	c.Status = status
	return previous, nil
}

func (r *fakeConversationRepo) setStatus(id uuid.UUID, status string) {
	r.mu.Lock()
	r.convs[id].Status = status
	r.mu.Unlock()
}

// fakeMessageRepo повторяет семантику SQL-реализации в памяти.
type fakeMessageRepo struct {
	mu            sync.Mutex
	nextID        int64
	messages      map[int64]*domain.Message
	conversations *fakeConversationRepo
	createErr     error
	markErr       error
}

func newFakeMessageRepo(conversations *fakeConversationRepo) *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[int64]*domain.Message), conversations: conversations}
}

// writable повторяет условие открытой беседы из SQL.
func (r *fakeMessageRepo) writable(conversationID uuid.UUID) error {
	open, exists := r.conversations.isOpen(conversationID)
	switch {
	case !exists:
		return apperrors.ErrConversationNotFound
	case !open:
		return apperrors.ErrConversationClosed
	default:
		return nil
	}
}

func cloneMessage(m *domain.Message) *domain.Message {
	clone := *m
	clone.ReadBy = m.ReadBy.Clone()
	clone.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	return &clone
}

func (r *fakeMessageRepo) insert(m *domain.Message) {
	r.nextID++
	m.ID = r.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r.messages[m.ID] = cloneMessage(m)
}

func (r *fakeMessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if err := r.writable(m.ConversationID); err != nil {
		return err
	}
	r.insert(m)
	return nil
}

func (r *fakeMessageRepo) CreateSystem(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.insert(m)
	return nil
}

func (r *fakeMessageRepo) CreateIfEmpty(_ context.Context, m *domain.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return false, r.createErr
	}
	if r.writable(m.ConversationID) != nil {
		return false, nil
	}
	for _, existing := range r.messages {
		if existing.ConversationID == m.ConversationID {
			return false, nil
		}
	}
	r.insert(m)
	return true, nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (r *fakeMessageRepo) UpdateBody(_ context.Context, id int64, body string, editedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.IsDeleted {
		return apperrors.ErrMessageNotFound
	}
	if err := r.writable(m.ConversationID); err != nil {
		return err
	}
	m.Body = body
	m.IsEdited = true
	m.EditedAt = &editedAt
	return nil
}

func (r *fakeMessageRepo) SoftDelete(_ context.Context, id int64, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.IsDeleted {
		return apperrors.ErrMessageNotFound
	}
	if err := r.writable(m.ConversationID); err != nil {
		return err
	}
	m.IsDeleted = true
	m.DeletedAt = &deletedAt
	return nil
}

func (r *fakeMessageRepo) visible(conversationID uuid.UUID) []*domain.Message {
	var out []*domain.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID && !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeMessageRepo) List(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := r.visible(conversationID)
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID > visible[j].ID })

	if offset >= len(visible) {
		return []*domain.Message{}, nil
	}
	visible = visible[offset:]
	if len(visible) > limit {
		visible = visible[:limit]
	}

	out := make([]*domain.Message, 0, len(visible))
	for _, m := range visible {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func unreadBy(m *domain.Message, userID uuid.UUID) bool {
	return !m.IsAuthoredBy(userID) && !m.ReadBy.Has(userID)
}

func (r *fakeMessageRepo) MarkRead(_ context.Context, conversationID, userID uuid.UUID, readAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return 0, r.markErr
	}
	var marked int64
	for _, m := range r.visible(conversationID) {
		if unreadBy(m, userID) && m.ReadBy.Add(userID, readAt) {
			marked++
		}
	}
	return marked, nil
}

func (r *fakeMessageRepo) UnreadCount(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.visible(conversationID) {
		if unreadBy(m, userID) {
			count++
		}
	}
	return count, nil
}

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *fakeMessageRepo) stored(id int64) *domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMessage(r.messages[id])
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	events []*domain.AuditLog
	err    error
}

func (r *fakeAuditRepo) CreateLog(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, log)
	return nil
}

func (r *fakeAuditRepo) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// recordingDispatcher фиксирует вызовы вместо реальной доставки.
type recordingDispatcher struct {
	mu         sync.Mutex
	newMessage []uuid.UUID
	closed     []uuid.UUID
	events     []domain.NotificationEvent
}

func (d *recordingDispatcher) Dispatch(ev domain.NotificationEvent) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *recordingDispatcher) Deliver(_ context.Context, ev domain.NotificationEvent) service.DeliveryReport {
	d.Dispatch(ev)
	return service.DeliveryReport{RecipientID: ev.RecipientID}
}

func (d *recordingDispatcher) NotifyNewMessage(conv *domain.Conversation, msg *domain.Message, senderID uuid.UUID, senderRole string) {
	d.mu.Lock()
	d.newMessage = append(d.newMessage, conv.ID)
	d.mu.Unlock()
}

func (d *recordingDispatcher) NotifyConversationClosed(conv *domain.Conversation) {
	d.mu.Lock()
	d.closed = append(d.closed, conv.ID)
	d.mu.Unlock()
}

func (d *recordingDispatcher) Wait() {}

func (d *recordingDispatcher) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.newMessage), len(d.closed)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Envelope
}

func (b *recordingBroadcaster) BroadcastConversation(_ uuid.UUID, env realtime.Envelope, _ string) int {
	b.mu.Lock()
	b.events = append(b.events, env)
	b.mu.Unlock()
	return 1
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, env := range b.events {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

type mockChannel struct {
	mock.Mock
	name string
}

func (m *mockChannel) Name() string {
	return m.name
}

func (m *mockChannel) Deliver(ctx context.Context, recipientID uuid.UUID, ev domain.NotificationEvent) error {
	args := m.Called(ctx, recipientID, ev)
	return args.Error(0)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) PushToUser(userID uuid.UUID, env realtime.Envelope) int {
	args := m.Called(userID, env)
	return args.Int(0)
}
