// Package agentapi wraps the external backend's agent resource.
package agentapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/restapi"
)

// Requester is the subset of restapi.Client used here.
type Requester interface {
	Do(ctx context.Context, method, endpoint string, body, out any, opts ...restapi.RequestOption) error
}

// ChatRequest asks a remote agent for a single reply.
type ChatRequest struct {
	Message   string  `json:"message"`
	AgentID   int64   `json:"agent_id"`
	SessionID *string `json:"session_id,omitempty"`
	Model     *string `json:"model,omitempty"`
}

// ChatResponse is the reply of a remote agent.
type ChatResponse struct {
	Response  string  `json:"response"`
	AgentID   int64   `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	SessionID *string `json:"session_id"`
	ModelUsed *string `json:"model_used"`
}

// Client manages agents on the external backend.
type Client struct {
	api Requester
}

// New creates an agent client.
func New(api Requester) *Client {
	return &Client{api: api}
}

// ListAgents returns every agent owned by the current user.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := c.api.Do(ctx, http.MethodGet, "api/agents", nil, &agents); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// GetAgent returns one agent.
func (c *Client) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.api.Do(ctx, http.MethodGet, agentPath(id), nil, &agent); err != nil {
		return nil, fmt.Errorf("get agent %d: %w", id, err)
	}
	return &agent, nil
}

// CreateAgent creates an agent and returns it with its backend-assigned id.
func (c *Client) CreateAgent(ctx context.Context, in domain.AgentCreate) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.api.Do(ctx, http.MethodPost, "api/agents", in, &agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &agent, nil
}

// UpdateAgent applies a partial update.
func (c *Client) UpdateAgent(ctx context.Context, id int64, in domain.AgentUpdate) (*domain.Agent, error) {
	var agent domain.Agent
	if err := c.api.Do(ctx, http.MethodPut, agentPath(id), in, &agent); err != nil {
		return nil, fmt.Errorf("update agent %d: %w", id, err)
	}
	return &agent, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id int64) error {
	if err := c.api.Do(ctx, http.MethodDelete, agentPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete agent %d: %w", id, err)
	}
	return nil
}

// Chat sends one message to an agent.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.api.Do(ctx, http.MethodPost, "api/agents/chat", req, &resp); err != nil {
		return nil, fmt.Errorf("chat with agent %d: %w", req.AgentID, err)
	}
	return &resp, nil
}

func agentPath(id int64) string {
	return fmt.Sprintf("api/agents/%d", id)
}
