package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"consultation_chat/internal/domain"
)

type PresenceKind string

const (
	PresenceOnline             PresenceKind = "online"
	PresenceOffline            PresenceKind = "offline"
	PresenceDeviceConnected    PresenceKind = "device_connected"
	PresenceDeviceDisconnected PresenceKind = "device_disconnected"
)

// PresenceEvent описывает изменение состава соединений пользователя.
// Online и Offline приходят ровно один раз на каждый переход.
type PresenceEvent struct {
	Kind         PresenceKind
	UserID       uuid.UUID
	ConnectionID string
	At           time.Time
	// Others - остальные соединения пользователя на момент изменения
	Others []*Connection
}

type PresenceListener func(PresenceEvent)

type entry struct {
	conn         *Connection
	lastActivity time.Time
	rooms        map[uuid.UUID]struct{}
}

// Registry - потокобезопасный реестр соединений: пользователь -> соединения, соединение -> активность.
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]*entry
	conns map[string]*entry
	rooms map[uuid.UUID]map[string]*Connection
	peak  int
	total uint64

	// pending - переходы в порядке фиксации под mu; доставляются по одному под deliverMu
	pending   []PresenceEvent
	deliverMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []PresenceListener

	now func() time.Time
}

type RegistryOption func(*Registry)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		users: make(map[uuid.UUID]map[string]*entry),
		conns: make(map[string]*entry),
		rooms: make(map[uuid.UUID]map[string]*Connection),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Now() time.Time {
	return r.now()
}

// OnPresence подписывает слушателя на изменения присутствия. Слушатели вызываются вне блокировки реестра
// строго в порядке изменений и не должны сами регистрировать или удалять соединения.
func (r *Registry) OnPresence(listener PresenceListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, listener)
	r.listenersMu.Unlock()
}

// flushPresence доставляет накопленные переходы. Вызывающий возвращается, когда его переход доставлен:
// его либо доставил он сам, либо тот, кто держал deliverMu раньше.
func (r *Registry) flushPresence() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		ev := r.pending[0]
		r.pending[0] = PresenceEvent{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		r.notify(ev)
	}
}

func (r *Registry) notify(ev PresenceEvent) {
	r.listenersMu.RLock()
	listeners := make([]PresenceListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(ev)
	}
}

// Register добавляет соединение. Повторная регистрация того же ID возвращает false.
func (r *Registry) Register(conn *Connection) bool {
	now := r.now()

	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return false
	}

	e := &entry{conn: conn, lastActivity: now, rooms: make(map[uuid.UUID]struct{})}
	r.conns[conn.ID] = e

	bucket, online := r.users[conn.UserID]
	if !online {
		bucket = make(map[string]*entry)
		r.users[conn.UserID] = bucket
	}
	others := connectionsOf(bucket)
	bucket[conn.ID] = e

	r.total++
	if len(r.conns) > r.peak {
		r.peak = len(r.conns)
	}

	kind := PresenceDeviceConnected
	if !online {
		kind = PresenceOnline
	}
	r.pending = append(r.pending, PresenceEvent{Kind: kind, UserID: conn.UserID, ConnectionID: conn.ID, At: now, Others: others})
	r.mu.Unlock()

	r.flushPresence()
	return true
}

// Deregister удаляет соединение вместе с подписками на беседы.
// Возвращает false, если соединение уже удалено.
func (r *Registry) Deregister(conn *Connection) bool {
	now := r.now()

	r.mu.Lock()
	e, exists := r.conns[conn.ID]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.ID)

	for conversationID := range e.rooms {
		if members, ok := r.rooms[conversationID]; ok {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(r.rooms, conversationID)
			}
		}
	}

	bucket := r.users[conn.UserID]
	delete(bucket, conn.ID)
	offline := len(bucket) == 0
	if offline {
		delete(r.users, conn.UserID)
	}
	others := connectionsOf(bucket)

	kind := PresenceDeviceDisconnected
	if offline {
		kind = PresenceOffline
	}
	r.pending = append(r.pending, PresenceEvent{Kind: kind, UserID: conn.UserID, ConnectionID: conn.ID, At: now, Others: others})
	r.mu.Unlock()

	r.flushPresence()
	return true
}

// Touch обновляет время последней активности соединения.
func (r *Registry) Touch(connID string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if now.After(e.lastActivity) {
		e.lastActivity = now
	}
	return true
}

// LastActivity возвращает время последней активности соединения.
func (r *Registry) LastActivity(connID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastActivity, true
}

// Snapshot - согласованный срез всех соединений на момент вызова.
func (r *Registry) Snapshot() []domain.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.ConnectionInfo, 0, len(r.conns))
	for _, e := range r.conns {
		infos = append(infos, domain.ConnectionInfo{
			ConnectionID: e.conn.ID,
			UserID:       e.conn.UserID,
			ConnectedAt:  e.conn.ConnectedAt,
			LastActivity: e.lastActivity,
		})
	}
	return infos
}

type trackedConnection struct {
	conn         *Connection
	lastActivity time.Time
}

func (r *Registry) tracked() []trackedConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]trackedConnection, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, trackedConnection{conn: e.conn, lastActivity: e.lastActivity})
	}
	return out
}

func (r *Registry) HandlesFor(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return connectionsOf(r.users[userID])
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

func (r *Registry) Lookup(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Join подписывает соединение на события беседы. Проверка доступа - забота вызывающего.
func (r *Registry) Join(connID string, conversationID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}

	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[conversationID] = members
	}
	members[connID] = e.conn
	e.rooms[conversationID] = struct{}{}
	return true
}

func (r *Registry) Leave(connID string, conversationID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, joined := e.rooms[conversationID]; !joined {
		return false
	}

	delete(e.rooms, conversationID)
	members := r.rooms[conversationID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, conversationID)
	}
	return true
}

func (r *Registry) Subscribers(conversationID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.rooms[conversationID])
}

func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.RegistryStats{
		ActiveConnections:          len(r.conns),
		PeakConnections:            r.peak,
		TotalConnectionsSinceStart: r.total,
		DistinctUsersOnline:        len(r.users),
	}
}

func connectionsOf(bucket map[string]*entry) []*Connection {
	out := make([]*Connection, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e.conn)
	}
	return out
}
