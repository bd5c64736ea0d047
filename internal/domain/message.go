package domain

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             int64        `json:"id"`
	ConversationID uuid.UUID    `json:"conversation_id"`
	AuthorID       *uuid.UUID   `json:"author_id,omitempty"`
	Kind           string       `json:"kind"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReadBy         ReadReceipts `json:"read_by"`
	IsEdited       bool         `json:"is_edited"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	IsDeleted      bool         `json:"is_deleted"`
	DeletedAt      *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Attachment struct {
	Name     string `json:"name" validate:"required,max=255"`
	Path     string `json:"path" validate:"required,max=1024"`
	MimeType string `json:"mime_type" validate:"required,max=127"`
	Size     int64  `json:"size" validate:"gte=0"`
}

const (
	MessageKindText   = "text"
	MessageKindSystem = "system"
)

// IsAuthoredBy - системные сообщения не имеют автора.
func (m *Message) IsAuthoredBy(userID uuid.UUID) bool {
	return m.AuthorID != nil && *m.AuthorID == userID
}

// ReadReceipts - множество прочтений: пользователь -> время прочтения.
// Запись только добавляется, повторное прочтение ничего не меняет.
type ReadReceipts map[uuid.UUID]time.Time

// Add добавляет отметку, если ее еще нет. Возвращает true, если отметка добавлена.
func (r ReadReceipts) Add(userID uuid.UUID, at time.Time) bool {
	if _, ok := r[userID]; ok {
		return false
	}
	r[userID] = at
	return true
}

func (r ReadReceipts) Has(userID uuid.UUID) bool {
	_, ok := r[userID]
	return ok
}

func (r ReadReceipts) Clone() ReadReceipts {
	clone := make(ReadReceipts, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}
