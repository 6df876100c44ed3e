package relay

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrHumanNotEnabled = errors.New("human mode is not enabled for this chat")
	ErrStorage         = errors.New("storage failure")
	ErrGenerator       = errors.New("generator failure")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrBadRequest      = errors.New("bad request")
)

// ClientMessage возвращает текст для события error. Детали хранилища наружу не уходят.
func ClientMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChatNotFound):
		return "Chat not found"
	case errors.Is(err, ErrInvalidMessage):
		return "Message must not be empty"
	case errors.Is(err, ErrHumanNotEnabled):
		return "Human mode is not enabled for this chat"
	case errors.Is(err, ErrSlotUnavailable):
		return "This time slot is no longer available"
	case errors.Is(err, ErrBadRequest):
		return "Invalid request data"
	case errors.Is(err, ErrGenerator):
		return "Assistant is unavailable"
	default:
		return "Internal error, please try again"
	}
}
