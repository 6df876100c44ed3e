package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// DB — подмножество pgxpool.Pool, которое нужно репозиториям.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store объединяет репозитории в хранилище для relay.
type Store struct {
	*ChatRepository
	*MessageRepository
	*BookingRepository
}

func NewStore(db DB) *Store {
	return &Store{
		ChatRepository:    NewChatRepository(db),
		MessageRepository: NewMessageRepository(db),
		BookingRepository: NewBookingRepository(db),
	}
}
