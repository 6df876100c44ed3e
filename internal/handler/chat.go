package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// ChatReader — чтение чатов для панели оператора (repository.Store).
type ChatReader interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	GetChat(ctx context.Context, id int64) (*model.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
}

type ChatHandler struct {
	chats ChatReader
}

func NewChatHandler(chats ChatReader) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// ListChats — GET /api/chats, новые сверху.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.Context())
	if err != nil {
		logger.Errorf("handler.ListChats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// GetChat — GET /api/chats/{id}: чат и его история.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	chat, err := h.chats.GetChat(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.Errorf("handler.GetChat id=%d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	history, err := h.chats.ListMessages(r.Context(), id)
	if err != nil {
		logger.Errorf("handler.GetChat history id=%d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get chat history")
		return
	}
	if history == nil {
		history = []model.Message{}
	}
	writeJSON(w, http.StatusOK, model.ChatWithHistory{Chat: *chat, History: history})
}
