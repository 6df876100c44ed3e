package handler

import (
	"net/http"

	"github.com/chatrelay/internal/push"
)

// ConfigHandler отдаёт публичные параметры конфигурации.
type ConfigHandler struct {
	vapidPublicKey string
}

// NewConfigHandler создаёт обработчик; keys == nil — пуши выключены.
func NewConfigHandler(keys *push.VAPIDKeys) *ConfigHandler {
	h := &ConfigHandler{}
	if keys.Valid() {
		h.vapidPublicKey = keys.PublicKey
	}
	return h
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.vapidPublicKey,
	})
}
