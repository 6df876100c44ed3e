package handler

import (
	"context"
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// SlotLister — свободные слоты (relay.BookingCoordinator).
type SlotLister interface {
	ListAvailable(ctx context.Context) ([]model.BookingSlot, error)
}

type SlotHandler struct {
	slots SlotLister
}

func NewSlotHandler(slots SlotLister) *SlotHandler {
	return &SlotHandler{slots: slots}
}

// ListAvailable — GET /api/slots.
func (h *SlotHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	slots, err := h.slots.ListAvailable(r.Context())
	if err != nil {
		logger.Errorf("handler.ListAvailable: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	out := make([]model.SlotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.View())
	}
	writeJSON(w, http.StatusOK, out)
}
