package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consultation_chat/internal/domain"
)

// Envelope - кадр websocket: тип события и его типизированная нагрузка.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// События клиента
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventHeartbeatPing     = "heartbeat-ping"
	EventChatInit          = "chat-init"
	EventMarkRead          = "mark-read"
)

// События сервера
const (
	EventUserOnline         = "user-online"
	EventUserOffline        = "user-offline"
	EventDeviceConnected    = "device-connected"
	EventDeviceDisconnected = "device-disconnected"
	EventJoinedConversation = "joined-conversation"
	EventLeftConversation   = "left-conversation"
	EventHeartbeatPong      = "heartbeat-pong"
	EventError              = "error"
	EventNewMessage         = "new-message"
	EventMessageUpdated     = "message-updated"
	EventMessageDeleted     = "message-deleted"
	EventMessagesRead       = "messages-read"
	EventNotification       = "notification"
	EventConversationClosed = "conversation-closed"
)

// Коды ошибок транспортного уровня; ошибки сервисов кодируются через apperrors.ReasonCode
const (
	ErrorCodeUnknownEvent    = "unknown_event"
	ErrorCodeInvalidPayload  = "invalid_payload"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeInternalFailure = "internal_error"
)

// ConversationRef - нагрузка join-conversation, leave-conversation, chat-init и mark-read.
type ConversationRef struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type PresencePayload struct {
	UserID uuid.UUID `json:"userId"`
}

type DevicePayload struct {
	UserID       uuid.UUID `json:"userId"`
	ConnectionID string    `json:"connectionId"`
}

type JoinedPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	OK             bool      `json:"ok"`
	Error          string    `json:"error,omitempty"`
}

type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessagePayload struct {
	Message *domain.Message `json:"message"`
}

type MessagesReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type NotificationPayload struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority string                 `json:"priority"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

type ConversationClosedPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Status         string    `json:"status"`
}

// NewEnvelope сериализует нагрузку в кадр заданного типа.
func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return Envelope{Type: eventType, Payload: data}, nil
}

// MustEnvelope используется для нагрузок, сериализация которых не может завершиться ошибкой.
func MustEnvelope(eventType string, payload interface{}) Envelope {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func ErrorEnvelope(code, message string) Envelope {
	return MustEnvelope(EventError, ErrorPayload{Code: code, Message: message})
}

// DecodeConversationRef разбирает нагрузку событий, адресованных одной беседе.
func DecodeConversationRef(env Envelope) (ConversationRef, error) {
	var ref ConversationRef
	if len(env.Payload) == 0 {
		return ref, fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &ref); err != nil {
		return ref, fmt.Errorf("%s: %w", env.Type, err)
	}
	if ref.ConversationID == uuid.Nil {
		return ref, fmt.Errorf("%s: conversationId is required", env.Type)
	}
	return ref, nil
}

// IsClientEvent сообщает, входит ли тип в закрытый набор событий клиента.
func IsClientEvent(eventType string) bool {
	switch eventType {
	case EventJoinConversation, EventLeaveConversation, EventHeartbeatPing, EventChatInit, EventMarkRead:
		return true
	default:
		return false
	}
}
