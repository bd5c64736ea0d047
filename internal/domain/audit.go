package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID             int64                  `json:"id"`
	EventTime      time.Time              `json:"event_time"`
	ActorUserID    *uuid.UUID             `json:"actor_user_id,omitempty"`
	ActorRole      string                 `json:"actor_role"`
	ConversationID *uuid.UUID             `json:"conversation_id,omitempty"`
	EventType      string                 `json:"event_type"`
	Payload        map[string]interface{} `json:"payload"`
}

const ActorRoleSystem = "system"

const (
	EventTypeMessageSent        = "MESSAGE_SENT"
	EventTypeMessageEdited      = "MESSAGE_EDITED"
	EventTypeMessageDeleted     = "MESSAGE_DELETED"
	EventTypeConversationStatus = "CONVERSATION_STATUS_CHANGED"
	EventTypeConversationClosed = "CONVERSATION_CLOSED"
	EventTypeConnectionReaped   = "CONNECTION_REAPED"
)
