package relay

import "github.com/chatrelay/internal/model"

// EventType — тип исходящего события для подписчиков комнаты.
type EventType string

const (
	EventChatCreated         EventType = "chat_created"
	EventStudentConnected    EventType = "student_connected"
	EventAdminConnected      EventType = "admin_connected"
	EventNewMessage          EventType = "new_message"
	EventAdminStatusChanged  EventType = "admin_status_changed"
	EventHumanEnabledChanged EventType = "human_enabled_changed"
	EventBookingConfirmed    EventType = "booking_confirmed"
	EventBookingFailed       EventType = "booking_failed"
	EventError               EventType = "error"
)

type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type ChatCreatedPayload struct {
	ChatID int64 `json:"chat_id"`
}

type StudentConnectedPayload struct {
	ChatID           int64           `json:"chat_id"`
	Chat             model.Chat      `json:"chat"`
	History          []model.Message `json:"history"`
	IsAdminConnected bool            `json:"is_admin_connected"`
}

type AdminConnectedPayload struct {
	ChatID  int64           `json:"chat_id"`
	Chat    model.Chat      `json:"chat"`
	History []model.Message `json:"history"`
}

type AdminStatusPayload struct {
	ChatID           int64 `json:"chat_id"`
	IsAdminConnected bool  `json:"is_admin_connected"`
}

type HumanEnabledPayload struct {
	ChatID         int64 `json:"chat_id"`
	IsHumanEnabled bool  `json:"is_human_enabled"`
}

type BookingPayload struct {
	ChatID    int64 `json:"chat_id"`
	BookingID int64 `json:"booking_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newMessageEvent(m model.Message) Event {
	return Event{Type: EventNewMessage, Payload: m}
}

func adminStatusEvent(chatID int64, connected bool) Event {
	return Event{Type: EventAdminStatusChanged, Payload: AdminStatusPayload{ChatID: chatID, IsAdminConnected: connected}}
}

func humanEnabledEvent(chatID int64, enabled bool) Event {
	return Event{Type: EventHumanEnabledChanged, Payload: HumanEnabledPayload{ChatID: chatID, IsHumanEnabled: enabled}}
}

// ErrorEvent строит событие error для инициатора отклонённой операции.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Message: ClientMessage(err)}}
}
