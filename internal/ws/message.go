package ws

import "github.com/chatrelay/internal/relay"

// Op — тип входящего сообщения от клиента.
type Op string

const (
	OpStudentConnect    Op = "student_connect"
	OpStudentMessage    Op = "student_message"
	OpStudentDisconnect Op = "student_disconnect"
	OpAdminConnect      Op = "admin_connect"
	OpAdminDisconnect   Op = "admin_disconnect_from_chat"
	OpAdminMessage      Op = "admin_message"
	OpToggleHuman       Op = "toggle_human_enabled"
)

// IncomingMessage is what the client sends to the server.
// chat_id отсутствует только в student_connect нового студента.
type IncomingMessage struct {
	Type      Op     `json:"type"`
	ChatID    *int64 `json:"chat_id,omitempty"`
	Message   string `json:"message,omitempty"`
	IsEnabled *bool  `json:"is_enabled,omitempty"`
}

func (m IncomingMessage) chatID() int64 {
	if m.ChatID == nil {
		return 0
	}
	return *m.ChatID
}

// role — роль соединения, которой разрешена операция.
func (o Op) role() relay.SessionRole {
	switch o {
	case OpAdminConnect, OpAdminDisconnect, OpAdminMessage, OpToggleHuman:
		return relay.SessionAdmin
	default:
		return relay.SessionStudent
	}
}

type chatRequest struct {
	ChatID int64 `validate:"required,gt=0"`
}

type toggleRequest struct {
	ChatID    int64 `validate:"required,gt=0"`
	IsEnabled *bool `validate:"required"`
}

// rateLimitedEvent — ответ студенту, превысившему лимит сообщений.
var rateLimitedEvent = relay.Event{
	Type:    relay.EventError,
	Payload: relay.ErrorPayload{Message: "Too many messages, please slow down"},
}

var busyEvent = relay.Event{
	Type:    relay.EventError,
	Payload: relay.ErrorPayload{Message: "Server is busy, please retry"},
}
