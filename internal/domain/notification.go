package domain

import (
	"github.com/google/uuid"
)

// NotificationEvent существует только на время доставки и не сохраняется.
type NotificationEvent struct {
	Type        string                 `json:"type" validate:"required,oneof=new_message conversation_closed"`
	RecipientID uuid.UUID              `json:"recipient_id" validate:"required"`
	Title       string                 `json:"title" validate:"required,max=200"`
	Body        string                 `json:"body" validate:"max=4000"`
	Priority    string                 `json:"priority" validate:"required,oneof=low normal high"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Channels    []string               `json:"channels" validate:"required,min=1,dive,oneof=live email"`
}

const (
	NotificationTypeNewMessage         = "new_message"
	NotificationTypeConversationClosed = "conversation_closed"
)

const (
	NotificationPriorityLow    = "low"
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
)

const (
	ChannelLive  = "live"
	ChannelEmail = "email"
)
