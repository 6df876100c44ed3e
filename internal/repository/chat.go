package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/jackc/pgx/v5"
)

type ChatRepository struct {
	db DB
}

func NewChatRepository(db DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) CreateChat(ctx context.Context) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.CreateChat", time.Now())()
	c := &model.Chat{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO chats (is_human_enabled) VALUES (FALSE)
		 RETURNING id, is_human_enabled, created_at`,
	).Scan(&c.ID, &c.IsHumanEnabled, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.CreateChat: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetChat(ctx context.Context, id int64) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetChat", time.Now())()
	c := &model.Chat{}
	err := r.db.QueryRow(ctx,
		`SELECT id, is_human_enabled, created_at
		 FROM chats WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&c.ID, &c.IsHumanEnabled, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetChat: %w", err)
	}
	return c, nil
}

// ListChats возвращает неудалённые чаты, новые первыми.
func (r *ChatRepository) ListChats(ctx context.Context) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListChats", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT id, is_human_enabled, created_at
		 FROM chats WHERE deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListChats: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0)
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.IsHumanEnabled, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatRepo.ListChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListChats: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) SetHumanEnabled(ctx context.Context, id int64, enabled bool) error {
	defer logger.DeferLogDuration("chat.SetHumanEnabled", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE chats SET is_human_enabled = $1 WHERE id = $2 AND deleted_at IS NULL`,
		enabled, id,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetHumanEnabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
