package relay

import (
	"context"

	"github.com/chatrelay/internal/model"
)

// ChatStore — долговременное хранение чатов. Отсутствующий чат: repository.ErrNotFound.
type ChatStore interface {
	CreateChat(ctx context.Context) (*model.Chat, error)
	GetChat(ctx context.Context, id int64) (*model.Chat, error)
	SetHumanEnabled(ctx context.Context, id int64, enabled bool) error
}

type MessageStore interface {
	AppendMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
}

type SlotStore interface {
	ListAvailableSlots(ctx context.Context) ([]model.BookingSlot, error)
	ClaimSlot(ctx context.Context, slotID, chatID int64) (bool, error)
}

// Store реализуется repository.Store.
type Store interface {
	ChatStore
	MessageStore
	SlotStore
}

// GenerateRequest — вход генератора: новое сообщение студента и до N предыдущих сообщений.
type GenerateRequest struct {
	ChatID  int64
	Message string
	History []model.Message
}

// Decision — решение генератора. Пустой Reply означает, что сообщение ИИ не публикуется.
type Decision struct {
	Reply         string
	Escalate      bool
	BookingSlotID *int64
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Decision, error)
}

// EscalationNotifier оповещает операторов о передаче чата человеку.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, chatID int64)
}

// SessionRole — роль соединения.
type SessionRole string

const (
	SessionStudent SessionRole = "student"
	SessionAdmin   SessionRole = "admin"
)

// Subscriber — получатель событий комнаты. Send не блокирует и возвращает false,
// если событие не доставлено.
type Subscriber interface {
	ConnID() string
	Send(ev Event) bool
}
