package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/models"
	"github.com/matt-hans/shipagent/internal/services/chat"
)

// ChatHandler serves the conversation endpoints. One session maps to at
// most one pending job; follow-up messages refine it.
type ChatHandler struct {
	chat   *chat.Service
	logger arbor.ILogger
}

func NewChatHandler(chatService *chat.Service, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{chat: chatService, logger: logger}
}

// OpenSessionHandler handles POST /api/chat/sessions
func (h *ChatHandler) OpenSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	conv, err := h.chat.OpenSession(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, conv)
}

// GetSessionHandler handles GET /api/chat/sessions/{id}
func (h *ChatHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	conv, err := h.chat.GetSession(r.Context(), sessionID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, conv)
}

// postMessageRequest is the POST /api/chat/sessions/{id}/messages body
type postMessageRequest struct {
	Text        string `json:"text"`
	Mode        string `json:"mode"`
	AutoConfirm bool   `json:"auto_confirm"`
}

// PostMessageHandler handles POST /api/chat/sessions/{id}/messages. The
// reply either asks a clarifying question or carries the created job.
func (h *ChatHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := h.chat.PostMessage(r.Context(), sessionID, req.Text, chat.Options{
		Mode:        models.JobMode(req.Mode),
		AutoConfirm: req.AutoConfirm,
	})
	if err != nil {
		var record *models.ErrorRecord
		if errors.As(err, &record) {
			WriteErrorRecord(w, record)
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, reply)
}
