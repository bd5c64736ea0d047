package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation - беседа клиента со специалистом. Хранится во внешнем хранилище.
type Conversation struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	ProfessionalID *uuid.UUID `json:"professional_id,omitempty"`
	Status         string     `json:"status"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const (
	ConversationStatusPending    = "pending"
	ConversationStatusAccepted   = "accepted"
	ConversationStatusInProgress = "in_progress"
	ConversationStatusCompleted  = "completed"
	ConversationStatusCancelled  = "cancelled"
)

var conversationStatuses = map[string]bool{
	ConversationStatusPending:    true,
	ConversationStatusAccepted:   true,
	ConversationStatusInProgress: true,
	ConversationStatusCompleted:  true,
	ConversationStatusCancelled:  true,
}

func IsValidConversationStatus(status string) bool {
	return conversationStatuses[status]
}

// IsTerminalStatus - после терминального статуса писать в беседу нельзя.
func IsTerminalStatus(status string) bool {
	return status == ConversationStatusCompleted || status == ConversationStatusCancelled
}

func (c *Conversation) IsOpen() bool {
	return !IsTerminalStatus(c.Status)
}

func (c *Conversation) IsClient(userID uuid.UUID) bool {
	return c.ClientID == userID
}

func (c *Conversation) IsProfessional(userID uuid.UUID) bool {
	return c.ProfessionalID != nil && *c.ProfessionalID == userID
}

func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	return c.IsClient(userID) || c.IsProfessional(userID)
}

// Participants возвращает клиента и, если назначен, специалиста.
func (c *Conversation) Participants() []uuid.UUID {
	participants := []uuid.UUID{c.ClientID}
	if c.ProfessionalID != nil {
		participants = append(participants, *c.ProfessionalID)
	}
	return participants
}
