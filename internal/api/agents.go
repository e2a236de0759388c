package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/agentapi"
	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
)

// AgentClient is the remote agent resource.
type AgentClient interface {
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, id int64, in domain.AgentUpdate) (*domain.Agent, error)
	DeleteAgent(ctx context.Context, id int64) error
	Chat(ctx context.Context, req agentapi.ChatRequest) (*agentapi.ChatResponse, error)
}

// AgentHandler exposes the agents of the external backend. Agents are
// created through sessions, so there is no create route.
type AgentHandler struct {
	*Handler
	agents  AgentClient
	enabled bool
}

// NewAgentHandler creates a new agent handler. With enabled false every
// route answers 501.
func NewAgentHandler(base *Handler, agents AgentClient, enabled bool) *AgentHandler {
	return &AgentHandler{Handler: base, agents: agents, enabled: enabled}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agents", func(r chi.Router) {
		r.Use(h.requireExternal)
		r.Get("/", h.List)
		r.Post("/chat", h.Chat)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *AgentHandler) requireExternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.enabled {
			h.fail(w, r, fmt.Errorf("agents: %w", dispatch.ErrUnsupported), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func agentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid agent id")
		return 0, false
	}
	return id, true
}

// List returns the agents of the signed-in user.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.ListAgents(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load agents")
		return
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	JSON(w, http.StatusOK, agents)
}

// Get returns one agent.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	agent, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "Failed to load agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Update applies a partial update to an agent.
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	var req domain.AgentUpdate
	if !decode(w, r, &req) {
		return
	}
	agent, err := h.agents.UpdateAgent(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err, "Failed to update agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Delete removes an agent.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	if err := h.agents.DeleteAgent(r.Context(), id); err != nil {
		h.fail(w, r, err, "Failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Chat sends one message to an agent.
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req agentapi.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Message == "" || req.AgentID <= 0 {
		Error(w, http.StatusBadRequest, "message and agent_id are required")
		return
	}
	resp, err := h.agents.Chat(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "Failed to chat with agent")
		return
	}
	JSON(w, http.StatusOK, resp)
}
