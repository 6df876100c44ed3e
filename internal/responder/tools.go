package responder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/relay"
)

const (
	toolEscalate  = "human_escalation"
	toolListSlots = "get_booking_slots"
	toolBookSlot  = "book_time_slot"
)

var toolset = []Tool{
	{Type: "function", Function: ToolFunction{
		Name: toolEscalate,
		Description: "Hand the conversation over to a human advisor. Use it when the answer is not in the school " +
			"information, when the question needs personal advice, or when the student asks for a person.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string","description":"Why a human is needed"}},"required":["reason"]}`),
	}},
	{Type: "function", Function: ToolFunction{
		Name:        toolListSlots,
		Description: "List free time slots for a call with an advisor. Returns a JSON array of {id, date, time}.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}},
	{Type: "function", Function: ToolFunction{
		Name: toolBookSlot,
		Description: "Book a call slot for the student. Pass slot_id when the student picked a listed slot, " +
			"otherwise pass date (YYYY-MM-DD) and time (HH:MM).",
		Parameters: json.RawMessage(`{"type":"object","properties":{"slot_id":{"type":"integer"},"date":{"type":"string"},"time":{"type":"string"}}}`),
	}},
}

type escalateArgs struct {
	Reason string `json:"reason"`
}

type bookArgs struct {
	SlotID *int64 `json:"slot_id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

// runTool выполняет вызов инструмента, дополняя dec, и возвращает результат для модели.
func (c *Chatbot) runTool(ctx context.Context, call ToolCall, dec *relay.Decision) string {
	switch call.Function.Name {
	case toolEscalate:
		var a escalateArgs
		_ = json.Unmarshal([]byte(call.Function.Arguments), &a)
		dec.Escalate = true
		logger.Infof("responder: escalation requested: %s", a.Reason)
		return "Escalation triggered, a human advisor will join the chat. Reason: " + a.Reason

	case toolListSlots:
		slots, err := c.slots.ListAvailable(ctx)
		if err != nil {
			logger.Errorf("responder: list slots: %v", err)
			return "Error: booking slots are unavailable right now"
		}
		if len(slots) == 0 {
			return "No available slots at the moment."
		}
		views := make([]model.SlotView, 0, len(slots))
		for _, s := range slots {
			views = append(views, s.View())
		}
		raw, _ := json.Marshal(views)
		return string(raw)

	case toolBookSlot:
		var a bookArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &a); err != nil {
			return "Error: invalid booking arguments"
		}
		id, errText := c.resolveSlot(ctx, a)
		if id == 0 {
			return errText
		}
		dec.BookingSlotID = &id
		return fmt.Sprintf("Booking requested for slot %d. The system will confirm it to the student.", id)
	}
	return "Error: unknown tool " + call.Function.Name
}

func (c *Chatbot) resolveSlot(ctx context.Context, a bookArgs) (int64, string) {
	if a.SlotID != nil && *a.SlotID > 0 {
		return *a.SlotID, ""
	}
	if a.Date == "" || a.Time == "" {
		return 0, "Error: provide either slot_id or both date and time"
	}
	slots, err := c.slots.ListAvailable(ctx)
	if err != nil {
		logger.Errorf("responder: list slots: %v", err)
		return 0, "Error: booking slots are unavailable right now"
	}
	want := model.NormalizeSlotTime(a.Time)
	for _, s := range slots {
		if s.DateString() == a.Date && model.NormalizeSlotTime(s.Time) == want {
			return s.ID, ""
		}
	}
	return 0, fmt.Sprintf("Error: no available slot on %s at %s", a.Date, a.Time)
}
