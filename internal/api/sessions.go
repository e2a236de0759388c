package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/service"
)

// ChatStore is the session registry used by the session routes.
type ChatStore interface {
	Create(ctx context.Context, config domain.AgentConfig, meta domain.SessionMeta, focus bool) (*domain.Session, error)
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) error
	Activate(id string) error
	Refresh(ctx context.Context) error
	List() []domain.Session
	Groups() []domain.SessionGroup
	ActiveID() string
}

// MessageReader lists the messages of a session.
type MessageReader interface {
	GetMessages(ctx context.Context, sessionID string, topicID *string) ([]domain.Message, error)
}

// ChatSender sends one chat turn.
type ChatSender interface {
	SendMessage(ctx context.Context, p service.SendMessageParams) (*service.SendMessageResult, error)
}

// AgentLookup resolves the remote agent of a session.
type AgentLookup interface {
	GetBackendAgentID(sessionID string) (int64, bool)
}

// SessionHandler handles session, session group, message and chat
// endpoints. Creates and removes go through the chat store so its hooks
// run; the other session operations go straight to the session service.
type SessionHandler struct {
	*Handler
	chat     ChatStore
	sessions *service.SessionService
	messages MessageReader
	sender   ChatSender
	agents   AgentLookup
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler, chat ChatStore, sessions *service.SessionService, messages MessageReader, sender ChatSender, agents AgentLookup) *SessionHandler {
	return &SessionHandler{
		Handler:  base,
		chat:     chat,
		sessions: sessions,
		messages: messages,
		sender:   sender,
		agents:   agents,
	}
}

// RegisterRoutes registers session and session group routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/", h.RemoveAll)
		r.Get("/search", h.Search)
		r.Get("/rank", h.Rank)
		r.Get("/count", h.Count)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Remove)
		r.Post("/{id}/activate", h.Activate)
		r.Post("/{id}/clone", h.Clone)
		r.Put("/{id}/config", h.UpdateConfig)
		r.Put("/{id}/chat-config", h.UpdateChatConfig)
		r.Get("/{id}/messages", h.Messages)
		r.Post("/{id}/chat", h.Chat)
	})

	r.Route("/api/session-groups", func(r chi.Router) {
		r.Post("/", h.CreateGroup)
		r.Delete("/", h.RemoveAllGroups)
		r.Put("/order", h.ReorderGroups)
		r.Put("/{id}", h.UpdateGroup)
		r.Delete("/{id}", h.RemoveGroup)
	})
}

type createSessionRequest struct {
	Config domain.AgentConfig `json:"config"`
	Meta   domain.SessionMeta `json:"meta"`
	Focus  *bool              `json:"focus,omitempty"`
}

type sessionResponse struct {
	domain.Session
	AgentID *int64 `json:"agentId,omitempty"`
}

// List reloads the sessions from the active backend.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Refresh(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to load sessions")
		return
	}

	sessions := h.chat.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, h.withAgent(s))
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions":      out,
		"sessionGroups": h.chat.Groups(),
		"activeId":      h.chat.ActiveID(),
	})
}

// Create adds a session. It is focused unless focus is false.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decode(w, r, &req) {
		return
	}
	focus := req.Focus == nil || *req.Focus

	session, err := h.chat.Create(r.Context(), req.Config, req.Meta, focus)
	if err != nil {
		h.fail(w, r, err, "Failed to create session")
		return
	}
	JSON(w, http.StatusCreated, h.withAgent(*session))
}

// Remove deletes a session.
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.chat.Remove(r.Context(), id); err != nil {
		h.fail(w, r, err, "Failed to remove session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAll deletes every session.
func (h *SessionHandler) RemoveAll(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.RemoveAll(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to remove sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate focuses a session.
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.chat.Activate(id); err != nil {
		h.fail(w, r, err, "Failed to activate session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"activeId": id})
}

// Search finds sessions by keyword.
func (h *SessionHandler) Search(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.SearchSessions(r.Context(), r.URL.Query().Get("keywords"))
	if err != nil {
		h.fail(w, r, err, "Failed to search sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

// Rank returns the most used sessions.
func (h *SessionHandler) Rank(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	ranks, err := h.sessions.RankSessions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "Failed to rank sessions")
		return
	}
	if ranks == nil {
		ranks = []domain.SessionRank{}
	}
	JSON(w, http.StatusOK, ranks)
}

// Count counts sessions in an optional date range.
func (h *SessionHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.CountSessions(r.Context(), dateRange(r))
	if err != nil {
		h.fail(w, r, err, "Failed to count sessions")
		return
	}
	JSON(w, http.StatusOK, map[string]int{"count": n})
}

// Update changes the group, pin state or meta of a session.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateSessionParams
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.UpdateSession(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cloneRequest struct {
	Title string `json:"title"`
}

// Clone duplicates a session.
func (h *SessionHandler) Clone(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.sessions.CloneSession(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.fail(w, r, err, "Failed to clone session")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// UpdateConfig patches the agent configuration of a session.
func (h *SessionHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.UpdateSessionConfig(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update session config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateChatConfig patches the chat configuration of a session.
func (h *SessionHandler) UpdateChatConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.UpdateSessionChatConfig(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update chat config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type groupRequest struct {
	Name string `json:"name"`
	Sort *int   `json:"sort,omitempty"`
}

// CreateGroup creates a session group.
func (h *SessionHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := h.sessions.CreateSessionGroup(r.Context(), req.Name, req.Sort)
	if err != nil {
		h.fail(w, r, err, "Failed to create session group")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// UpdateGroup renames or repositions a session group.
func (h *SessionHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req service.SessionGroupUpdate
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.UpdateSessionGroup(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		h.fail(w, r, err, "Failed to update session group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderGroups sets the sort position of several groups.
func (h *SessionHandler) ReorderGroups(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SortMap []service.SortEntry `json:"sortMap"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.sessions.UpdateSessionGroupOrder(r.Context(), req.SortMap); err != nil {
		h.fail(w, r, err, "Failed to reorder session groups")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveGroup deletes a session group. With remove_children=true its
// sessions go too.
func (h *SessionHandler) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	removeChildren := r.URL.Query().Get("remove_children") == "true"
	if err := h.sessions.RemoveSessionGroup(r.Context(), chi.URLParam(r, "id"), removeChildren); err != nil {
		h.fail(w, r, err, "Failed to remove session group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAllGroups deletes every session group.
func (h *SessionHandler) RemoveAllGroups(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RemoveAllSessionGroups(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to remove session groups")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages lists the messages of a session, optionally within a topic.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	messages, err := h.messages.GetMessages(r.Context(), id, optionalQuery(r, "topic_id"))
	if err != nil {
		h.fail(w, r, err, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

type chatRequest struct {
	Content  string   `json:"content"`
	Files    []string `json:"files,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
	TopicID  *string  `json:"topicId,omitempty"`
	Model    string   `json:"model"`
	Provider string   `json:"provider"`
}

// Chat sends a user message to the session and returns both stored
// messages.
func (h *SessionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.sender.SendMessage(r.Context(), service.SendMessageParams{
		SessionID: chi.URLParam(r, "id"),
		TopicID:   req.TopicID,
		NewUserMessage: service.UserMessage{
			Content:  req.Content,
			Files:    req.Files,
			ParentID: req.ParentID,
		},
		NewAssistantMessage: service.AssistantMessage{
			Model:    req.Model,
			Provider: req.Provider,
		},
	})
	if err != nil {
		h.fail(w, r, err, "Failed to send message")
		return
	}
	JSON(w, http.StatusOK, result)
}

func (h *SessionHandler) withAgent(s domain.Session) sessionResponse {
	out := sessionResponse{Session: s}
	if h.agents == nil {
		return out
	}
	if id, ok := h.agents.GetBackendAgentID(s.ID); ok {
		out.AgentID = &id
	}
	return out
}
