package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/responder"
)

// ModelSelector — выбор активной модели генератора (responder.Chatbot).
type ModelSelector interface {
	CurrentModel(ctx context.Context) string
	SetModel(ctx context.Context, name string) error
	Configured(name string) bool
}

type ModelHandler struct {
	models ModelSelector
}

func NewModelHandler(models ModelSelector) *ModelHandler {
	return &ModelHandler{models: models}
}

type modelInfo struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

type modelResponse struct {
	Model     string      `json:"model"`
	Available []modelInfo `json:"available"`
}

type SetModelRequest struct {
	Model string `json:"model" validate:"required,oneof=openai gemini"`
}

func (h *ModelHandler) response(ctx context.Context) modelResponse {
	resp := modelResponse{Model: h.models.CurrentModel(ctx)}
	for _, name := range responder.Models {
		resp.Available = append(resp.Available, modelInfo{Name: name, Configured: h.models.Configured(name)})
	}
	return resp
}

// GetModel — GET /api/model.
func (h *ModelHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response(r.Context()))
}

// SetModel — POST /api/model {"model": "openai"|"gemini"}.
func (h *ModelHandler) SetModel(w http.ResponseWriter, r *http.Request) {
	var req SetModelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "model must be one of: openai, gemini")
		return
	}
	if err := h.models.SetModel(r.Context(), req.Model); err != nil {
		if errors.Is(err, responder.ErrUnknownModel) {
			writeError(w, http.StatusBadRequest, "model must be one of: openai, gemini")
			return
		}
		logger.Errorf("handler.SetModel %s: %v", req.Model, err)
		writeError(w, http.StatusInternalServerError, "failed to switch model")
		return
	}
	writeJSON(w, http.StatusOK, h.response(r.Context()))
}
