package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultation_chat/internal/domain"
	apperrors "consultation_chat/pkg/errors"
	"consultation_chat/pkg/logger"
)

type ConversationRepository interface {
	// GetByID возвращает участников и текущий статус беседы
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetStatus(ctx context.Context, id uuid.UUID) (string, error)
	// UpdateStatus меняет статус и возвращает предыдущий
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (string, error)
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, client_id, professional_id, status, updated_at
		FROM conversations
		WHERE id = $1
	`

	conv := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.ClientID, &conv.ProfessionalID, &conv.Status, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, err
	}

	return conv, nil
}

func (r *conversationRepository) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM conversations WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrConversationNotFound
		}
		r.log.Error("Failed to get conversation status", "error", err, "conversation_id", id)
		return "", err
	}

	return status, nil
}

// UpdateStatus не трогает беседу в терминальном статусе: строка блокируется,
// и условие проверяется на ее актуальной версии.
func (r *conversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (string, error) {
	query := `
		UPDATE conversations c
		SET status = $2, updated_at = NOW()
		FROM (SELECT id, status FROM conversations WHERE id = $1 FOR UPDATE) prev
		WHERE c.id = prev.id AND prev.` + openStatusCondition + `
		RETURNING prev.status
	`

	var previous string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", r.closedOrMissing(ctx, id)
		}
		r.log.Error("Failed to update conversation status", "error", err, "conversation_id", id)
		return "", err
	}

	return previous, nil
}

// closedOrMissing различает отсутствующую беседу и закрытую после неудачной условной записи.
func (r *conversationRepository) closedOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetStatus(ctx, id); err != nil {
		return err
	}
	return apperrors.ErrConversationClosed
}
