package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"consultation_chat/pkg/logger"
)

const (
	presenceQueueSize = 1024
	presenceTimeout   = 2 * time.Second
)

// PresenceStore - внешнее зеркало присутствия (Redis).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uuid.UUID, at time.Time) error
	SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Hub рассылает события по живым соединениям реестра и уведомляет о смене присутствия.
type Hub struct {
	registry *Registry
	presence PresenceStore
	log      logger.Logger

	mirror chan PresenceEvent
}

func NewHub(registry *Registry, presence PresenceStore, log logger.Logger) *Hub {
	h := &Hub{
		registry: registry,
		presence: presence,
		log:      log,
		mirror:   make(chan PresenceEvent, presenceQueueSize),
	}
	registry.OnPresence(h.handlePresence)
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run переносит переходы присутствия во внешнее хранилище в порядке их возникновения.
func (h *Hub) Run(ctx context.Context) {
	if h.presence == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.mirror:
			h.mirrorPresence(ctx, ev)
		}
	}
}

func (h *Hub) mirrorPresence(ctx context.Context, ev PresenceEvent) {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	var err error
	if ev.Kind == PresenceOnline {
		err = h.presence.SetOnline(ctx, ev.UserID, ev.At)
	} else {
		err = h.presence.SetOffline(ctx, ev.UserID, ev.At)
	}
	if err != nil {
		h.log.Warn("Failed to mirror presence", "error", err, "user_id", ev.UserID, "kind", ev.Kind)
	}
}

func (h *Hub) handlePresence(ev PresenceEvent) {
	switch ev.Kind {
	case PresenceOnline:
		h.pushAll(ev.Others, MustEnvelope(EventUserOnline, PresencePayload{UserID: ev.UserID}))
		if conn, ok := h.registry.Lookup(ev.ConnectionID); ok {
			h.push(conn, MustEnvelope(EventUserOnline, PresencePayload{UserID: ev.UserID}))
		}
		h.enqueueMirror(ev)
	case PresenceOffline:
		// Других соединений у пользователя уже нет; переход виден слушателям реестра и зеркалу
		h.pushAll(ev.Others, MustEnvelope(EventUserOffline, PresencePayload{UserID: ev.UserID}))
		h.enqueueMirror(ev)
	case PresenceDeviceConnected:
		h.pushAll(ev.Others, MustEnvelope(EventDeviceConnected, DevicePayload{UserID: ev.UserID, ConnectionID: ev.ConnectionID}))
	case PresenceDeviceDisconnected:
		h.pushAll(ev.Others, MustEnvelope(EventDeviceDisconnected, DevicePayload{UserID: ev.UserID, ConnectionID: ev.ConnectionID}))
	}
}

func (h *Hub) enqueueMirror(ev PresenceEvent) {
	if h.presence == nil {
		return
	}
	select {
	case h.mirror <- ev:
	default:
		h.log.Warn("Presence mirror queue full, dropping transition", "user_id", ev.UserID, "kind", ev.Kind)
	}
}

// PushToUser доставляет событие на все соединения пользователя и возвращает число успешных отправок.
// Отсутствие соединений не считается ошибкой.
func (h *Hub) PushToUser(userID uuid.UUID, env Envelope) int {
	return h.pushAll(h.registry.HandlesFor(userID), env)
}

// BroadcastConversation рассылает событие подписчикам беседы, кроме соединения exceptConnID.
func (h *Hub) BroadcastConversation(conversationID uuid.UUID, env Envelope, exceptConnID string) int {
	subscribers := lo.Filter(h.registry.Subscribers(conversationID), func(c *Connection, _ int) bool {
		return c.ID != exceptConnID
	})
	return h.pushAll(subscribers, env)
}

func (h *Hub) PushToConnection(conn *Connection, env Envelope) bool {
	return h.push(conn, env)
}

func (h *Hub) pushAll(conns []*Connection, env Envelope) int {
	delivered := 0
	for _, conn := range conns {
		if h.push(conn, env) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) push(conn *Connection, env Envelope) bool {
	if err := conn.Send(env); err != nil {
		if !errors.Is(err, ErrTransportClosed) {
			h.log.Warn("Failed to push event",
				"error", err,
				"event", env.Type,
				"connection_id", conn.ID,
				"user_id", conn.UserID,
			)
		}
		return false
	}
	return true
}
