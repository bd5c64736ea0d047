package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultation_chat/internal/domain"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

type MessageRepository interface {
	// Create сохраняет сообщение вместе с начальными отметками о прочтении одним запросом.
	// В закрытую беседу не пишет: ErrConversationClosed.
	Create(ctx context.Context, message *domain.Message) error

	// CreateSystem сохраняет сообщение без проверки статуса беседы
	CreateSystem(ctx context.Context, message *domain.Message) error

	// CreateIfEmpty сохраняет сообщение, только если беседа открыта и в ней еще нет ни одного сообщения
	CreateIfEmpty(ctx context.Context, message *domain.Message) (bool, error)

	GetByID(ctx context.Context, id int64) (*domain.Message, error)

	// UpdateBody меняет текст и выставляет is_edited/edited_at. Только в открытой беседе.
	UpdateBody(ctx context.Context, id int64, body string, editedAt time.Time) error

	// SoftDelete помечает сообщение удаленным. Только в открытой беседе.
	SoftDelete(ctx context.Context, id int64, deletedAt time.Time) error

	// List возвращает неудаленные сообщения от новых к старым
	List(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, error)

	// MarkRead добавляет отметку userID во все чужие сообщения беседы, где ее еще нет
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) (int64, error)

	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `id, conversation_id, author_id, kind, body, attachments, read_by,
		       is_edited, edited_at, is_deleted, deleted_at, created_at`

func encodeMessageJSON(message *domain.Message) ([]byte, []byte, error) {
	attachments := message.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}

	readBy := message.ReadBy
	if readBy == nil {
		readBy = domain.ReadReceipts{}
	}
	readByJSON, err := json.Marshal(readBy)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal read receipts: %w", err)
	}

	return attachmentsJSON, readByJSON, nil
}

// openConversationGuard проверяет статус беседы под разделяемой блокировкой строки:
// смена статуса ждет конца записи, запись после закрытия видит новый статус.
const openConversationGuard = `EXISTS (
	SELECT 1 FROM conversations WHERE id = $1::uuid AND ` + openStatusCondition + ` FOR SHARE
)`

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	attachmentsJSON, readByJSON, err := encodeMessageJSON(message)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (conversation_id, author_id, kind, body, attachments, read_by, created_at)
		SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::jsonb, $6::jsonb, $7::timestamptz
		WHERE ` + openConversationGuard + `
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		message.ConversationID, message.AuthorID, message.Kind, message.Body,
		attachmentsJSON, readByJSON, message.CreatedAt,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.conversationWriteError(ctx, message.ConversationID)
		}
		r.log.Error("Failed to create message", "error", err, "conversation_id", message.ConversationID)
		return err
	}

	return nil
}

func (r *messageRepository) CreateSystem(ctx context.Context, message *domain.Message) error {
	attachmentsJSON, readByJSON, err := encodeMessageJSON(message)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (conversation_id, author_id, kind, body, attachments, read_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		message.ConversationID, message.AuthorID, message.Kind, message.Body,
		attachmentsJSON, readByJSON, message.CreatedAt,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create system message", "error", err, "conversation_id", message.ConversationID)
		return err
	}

	return nil
}

// conversationWriteError объясняет, почему условная запись в беседу не прошла.
func (r *messageRepository) conversationWriteError(ctx context.Context, conversationID uuid.UUID) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM conversations WHERE id = $1`, conversationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation status", "error", err, "conversation_id", conversationID)
		return err
	}
	return apperrors.ErrConversationClosed
}

// messageWriteError - то же для изменения существующего сообщения.
func (r *messageRepository) messageWriteError(ctx context.Context, id int64) error {
	var conversationID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1 AND is_deleted = FALSE`, id).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return err
	}
	return r.conversationWriteError(ctx, conversationID)
}

func (r *messageRepository) CreateIfEmpty(ctx context.Context, message *domain.Message) (bool, error) {
	attachmentsJSON, readByJSON, err := encodeMessageJSON(message)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO messages (conversation_id, author_id, kind, body, attachments, read_by, created_at)
		SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::jsonb, $6::jsonb, $7::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1::uuid)
		  AND ` + openConversationGuard + `
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		message.ConversationID, message.AuthorID, message.Kind, message.Body,
		attachmentsJSON, readByJSON, message.CreatedAt,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.log.Error("Failed to create initial message", "error", err, "conversation_id", message.ConversationID)
		return false, err
	}

	return true, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, err
	}

	return message, nil
}

func (r *messageRepository) UpdateBody(ctx context.Context, id int64, body string, editedAt time.Time) error {
	query := `
		UPDATE messages m
		SET body = $2, is_edited = TRUE, edited_at = $3
		WHERE m.id = $1 AND m.is_deleted = FALSE
		  AND EXISTS (
			SELECT 1 FROM conversations WHERE id = m.conversation_id AND ` + openStatusCondition + ` FOR SHARE
		  )
	`

	tag, err := r.db.Exec(ctx, query, id, body, editedAt)
	if err != nil {
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.messageWriteError(ctx, id)
	}

	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	query := `
		UPDATE messages m
		SET is_deleted = TRUE, deleted_at = $2
		WHERE m.id = $1 AND m.is_deleted = FALSE
		  AND EXISTS (
			SELECT 1 FROM conversations WHERE id = m.conversation_id AND ` + openStatusCondition + ` FOR SHARE
		  )
	`

	tag, err := r.db.Exec(ctx, query, id, deletedAt)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.messageWriteError(ctx, id)
	}

	return nil
}

func (r *messageRepository) List(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		r.log.Error("Failed to iterate messages", "error", err)
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) (int64, error) {
	// Оператор ? проверяет наличие ключа в jsonb, поэтому повторное прочтение ничего не меняет
	query := `
		UPDATE messages
		SET read_by = read_by || jsonb_build_object($3::text, $4::text)
		WHERE conversation_id = $1
		  AND is_deleted = FALSE
		  AND (author_id IS NULL OR author_id <> $2)
		  AND NOT (read_by ? $3::text)
	`

	tag, err := r.db.Exec(ctx, query, conversationID, userID, userID.String(), readAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		r.log.Error("Failed to mark messages read", "error", err, "conversation_id", conversationID, "user_id", userID)
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *messageRepository) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND is_deleted = FALSE
		  AND (author_id IS NULL OR author_id <> $2)
		  AND NOT (read_by ? $3::text)
	`

	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, userID, userID.String()).Scan(&count); err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "conversation_id", conversationID, "user_id", userID)
		return 0, err
	}

	return count, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	message := &domain.Message{}
	var attachmentsJSON, readByJSON []byte

	err := row.Scan(
		&message.ID, &message.ConversationID, &message.AuthorID, &message.Kind, &message.Body,
		&attachmentsJSON, &readByJSON, &message.IsEdited, &message.EditedAt,
		&message.IsDeleted, &message.DeletedAt, &message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &message.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}

	message.ReadBy = domain.ReadReceipts{}
	if len(readByJSON) > 0 {
		if err := json.Unmarshal(readByJSON, &message.ReadBy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal read receipts: %w", err)
		}
	}

	return message, nil
}
