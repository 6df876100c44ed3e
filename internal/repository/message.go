package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type MessageRepository struct {
	db DB
}

func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// AppendMessage сохраняет сообщение и заполняет ID и CreatedAt.
func (r *MessageRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.AppendMessage", time.Now())()
	err := r.db.QueryRow(ctx,
		`INSERT INTO chat_history (chat_id, role, message)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		m.ChatID, string(m.Role), m.Text,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.AppendMessage: %w", err)
	}
	return nil
}

// ListMessages возвращает историю чата в порядке записи.
func (r *MessageRepository) ListMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT id, chat_id, role, message, created_at
		 FROM chat_history
		 WHERE chat_id = $1 AND deleted_at IS NULL
		 ORDER BY id ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		m.Role = model.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages: %w", err)
	}
	return msgs, nil
}
