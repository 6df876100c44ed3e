package handler

import (
	"context"
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

// PushStore хранит подписки операторов (storage.StateStore).
type PushStore interface {
	AddPushSubscription(ctx context.Context, sub storage.PushSubscription) error
	RemovePushSubscription(ctx context.Context, endpoint string) error
}

// PushHandler обрабатывает подписку браузера оператора на уведомления об эскалации.
type PushHandler struct {
	store PushStore
}

func NewPushHandler(store PushStore) *PushHandler {
	return &PushHandler{store: store}
}

// SubscribeRequest — тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription storage.PushSubscription `json:"subscription" validate:"required"`
}

// Subscribe — POST /api/push/subscribe.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.store.AddPushSubscription(r.Context(), req.Subscription); err != nil {
		logger.Errorf("handler.Subscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest — тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// Unsubscribe — DELETE /api/push/subscribe.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.store.RemovePushSubscription(r.Context(), req.Endpoint); err != nil {
		logger.Errorf("handler.Unsubscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
