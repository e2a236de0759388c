package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/service"
)

// MessageHandler handles message maintenance and structured-output
// endpoints. Listing and chat live on the session routes.
type MessageHandler struct {
	*Handler
	messages *service.MessageService
	chat     *service.AIChatService
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(base *Handler, messages *service.MessageService, chat *service.AIChatService) *MessageHandler {
	return &MessageHandler{Handler: base, messages: messages, chat: chat}
}

// RegisterRoutes registers message routes.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/messages", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Delete("/", h.RemoveAll)
		r.Get("/count", h.Count)
		r.Post("/batch-delete", h.BatchRemove)
		r.Delete("/by-session/{sessionID}", h.RemoveBySession)
		r.Put("/{id}", h.Update)
		r.Put("/{id}/metadata", h.UpdateMetadata)
		r.Delete("/{id}", h.Remove)
	})

	r.Post("/api/ai/generate-json", h.GenerateJSON)
}

// createMessageRequest carries the session id, which the service keeps out
// of its own JSON form.
type createMessageRequest struct {
	service.CreateMessageParams
	SessionID string `json:"sessionId"`
}

func (req createMessageRequest) params() service.CreateMessageParams {
	p := req.CreateMessageParams
	p.SessionID = req.SessionID
	return p
}

// scope reads session_id and topic_id from the query string.
func scope(r *http.Request) service.MessageScope {
	return service.MessageScope{
		SessionID: r.URL.Query().Get("session_id"),
		TopicID:   optionalQuery(r, "topic_id"),
	}
}

// Create stores a message.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		Error(w, http.StatusBadRequest, "role is required")
		return
	}

	id, err := h.messages.CreateMessage(r.Context(), req.params())
	if err != nil {
		h.fail(w, r, err, "Failed to create message")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Count counts messages in an optional date range.
func (h *MessageHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.CountMessages(r.Context(), dateRange(r))
	if err != nil {
		h.fail(w, r, err, "Failed to count messages")
		return
	}
	JSON(w, http.StatusOK, map[string]int{"count": n})
}

// Update patches a message.
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.messages.UpdateMessage(r.Context(), chi.URLParam(r, "id"), req, scope(r)); err != nil {
		h.fail(w, r, err, "Failed to update message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateMetadata merges metadata into a message.
func (h *MessageHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.messages.UpdateMessageMetadata(r.Context(), chi.URLParam(r, "id"), req, scope(r)); err != nil {
		h.fail(w, r, err, "Failed to update message metadata")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove deletes one message.
func (h *MessageHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.RemoveMessage(r.Context(), chi.URLParam(r, "id"), scope(r)); err != nil {
		h.fail(w, r, err, "Failed to remove message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchRemove deletes several messages.
func (h *MessageHandler) BatchRemove(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		Error(w, http.StatusBadRequest, "ids is required")
		return
	}
	if err := h.messages.RemoveMessages(r.Context(), req.IDs, scope(r)); err != nil {
		h.fail(w, r, err, "Failed to remove messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveBySession deletes the messages of a session, optionally limited
// to topic_id.
func (h *MessageHandler) RemoveBySession(w http.ResponseWriter, r *http.Request) {
	err := h.messages.RemoveMessagesByAssistant(r.Context(), chi.URLParam(r, "sessionID"), optionalQuery(r, "topic_id"))
	if err != nil {
		h.fail(w, r, err, "Failed to remove messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAll deletes every message.
func (h *MessageHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.RemoveAllMessages(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to remove messages")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateJSON asks the model for a JSON document.
func (h *MessageHandler) GenerateJSON(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateJSONParams
	if !decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "messages is required")
		return
	}

	content, err := h.chat.GenerateJSON(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "Failed to generate JSON")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"content": content})
}
