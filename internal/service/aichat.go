package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/rpc"
)

// defaultAgentID is the remote agent new chat sessions are attached to.
const defaultAgentID = 1

// ErrInvalidChatResponse is returned when the backend reply lacks the user
// or assistant message.
var ErrInvalidChatResponse = errors.New("invalid response from server")

// AIChatService sends chat turns and structured-output requests.
type AIChatService struct {
	b   *Backends
	now func() time.Time
}

// NewAIChatService creates a chat service.
func NewAIChatService(b *Backends) *AIChatService {
	return &AIChatService{b: b, now: time.Now}
}

// UserMessage is the message the user typed.
type UserMessage struct {
	Content  string   `json:"content"`
	Files    []string `json:"files,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
}

// AssistantMessage selects the model that answers.
type AssistantMessage struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// SendMessageParams is one chat turn. An empty SessionID starts a new
// session.
type SendMessageParams struct {
	SessionID           string           `json:"sessionId,omitempty"`
	TopicID             *string          `json:"topicId,omitempty"`
	NewTopic            json.RawMessage  `json:"newTopic,omitempty"`
	NewUserMessage      UserMessage      `json:"newUserMessage"`
	NewAssistantMessage AssistantMessage `json:"newAssistantMessage"`
}

// SendMessageResult holds the stored messages of a chat turn.
type SendMessageResult struct {
	SessionID          string           `json:"sessionId,omitempty"`
	UserMessageID      string           `json:"userMessageId"`
	AssistantMessageID string           `json:"assistantMessageId"`
	TopicID            string           `json:"topicId,omitempty"`
	IsCreateNewTopic   bool             `json:"isCreateNewTopic"`
	Messages           []domain.Message `json:"messages"`
	Topics             json.RawMessage  `json:"topics,omitempty"`
}

// sessionChatRequest is the body of the external session chat endpoint.
type sessionChatRequest struct {
	Message        string   `json:"message"`
	Model          *string  `json:"model"`
	Provider       *string  `json:"provider"`
	Files          []string `json:"files"`
	ParentID       *string  `json:"parent_id"`
	TopicID        *string  `json:"topic_id"`
	CreateNewTopic bool     `json:"create_new_topic"`
}

type sessionChatMessage struct {
	ID        *string        `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp *string        `json:"timestamp"`
	CreatedAt *int64         `json:"createdAt"`
	UpdatedAt *int64         `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata"`
	Model     *string        `json:"model"`
	Provider  *string        `json:"provider"`
	ParentID  *string        `json:"parentId"`
}

type sessionChatResponse struct {
	UserMessageID      string               `json:"user_message_id"`
	AssistantMessageID string               `json:"assistant_message_id"`
	SessionID          string               `json:"session_id"`
	TopicID            *string              `json:"topic_id"`
	IsCreateNewTopic   bool                 `json:"is_create_new_topic"`
	Messages           []sessionChatMessage `json:"messages"`
	Topics             json.RawMessage      `json:"topics"`
}

// SendMessage stores a user message and the assistant reply. On the
// external backend the session chat endpoint creates both messages; a
// session attached to the default agent is created first when needed.
func (a *AIChatService) SendMessage(ctx context.Context, p SendMessageParams) (*SendMessageResult, error) {
	return dispatch.Do(ctx, a.b.policy, dispatch.OpSendMessage,
		func(ctx context.Context) (*SendMessageResult, error) {
			return a.sendViaSessionChat(ctx, p)
		},
		func(ctx context.Context) (*SendMessageResult, error) {
			if a.b.rpc == nil {
				return nil, fmt.Errorf("%s: %w", dispatch.OpSendMessage, dispatch.ErrUnsupported)
			}
			input, err := mergeObjects(p, map[string]any{"sessionId": domain.StorageSessionID(p.SessionID)})
			if err != nil {
				return nil, err
			}
			var out SendMessageResult
			if err := a.b.rpc.Call(rpc.WithoutNotification(ctx), dispatch.OpSendMessage.String(), input, &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
}

func (a *AIChatService) sendViaSessionChat(ctx context.Context, p SendMessageParams) (*SendMessageResult, error) {
	sessionID := p.SessionID
	if sessionID == "" || sessionID == domain.InboxSessionID {
		id, err := a.createChatSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	req := sessionChatRequest{
		Message:  p.NewUserMessage.Content,
		Model:    optional(p.NewAssistantMessage.Model),
		Provider: optional(p.NewAssistantMessage.Provider),
		Files:    p.NewUserMessage.Files,
		ParentID: optional(p.NewUserMessage.ParentID),
		TopicID:  p.TopicID,
	}

	var resp sessionChatResponse
	endpoint := pathID("api/conversations/sessions", sessionID) + "/chat"
	if err := a.b.rest.Do(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}

	if resp.SessionID != "" {
		sessionID = resp.SessionID
	}

	var hasUser, hasAssistant bool
	messages := make([]domain.Message, 0, len(resp.Messages))
	for i, m := range resp.Messages {
		switch domain.MessageRole(m.Role) {
		case domain.RoleUser:
			hasUser = true
		case domain.RoleAssistant:
			hasAssistant = true
		}
		messages = append(messages, a.convertMessage(m, sessionID, i))
	}
	if !hasUser || !hasAssistant {
		return nil, ErrInvalidChatResponse
	}

	result := &SendMessageResult{
		SessionID:          sessionID,
		UserMessageID:      resp.UserMessageID,
		AssistantMessageID: resp.AssistantMessageID,
		IsCreateNewTopic:   resp.IsCreateNewTopic,
		Messages:           messages,
		Topics:             resp.Topics,
	}
	if resp.TopicID != nil {
		result.TopicID = *resp.TopicID
	}
	return result, nil
}

// createChatSession starts an external session attached to the default agent.
func (a *AIChatService) createChatSession(ctx context.Context) (string, error) {
	body := map[string]any{
		"type": domain.SessionTypeAgent,
		"meta": map[string]any{"agentId": defaultAgentID},
	}

	var raw json.RawMessage
	if err := a.b.rest.Do(ctx, http.MethodPost, "api/sessions", body, &raw); err != nil {
		return "", fmt.Errorf("create chat session: %w", err)
	}
	id, ok := extractID(raw)
	if !ok {
		a.b.logger.Warn("Session created but no id returned", "response", string(raw))
		return "", fmt.Errorf("create chat session: %w", ErrMissingID)
	}
	return id, nil
}

func (a *AIChatService) convertMessage(m sessionChatMessage, sessionID string, index int) domain.Message {
	now := a.now()
	created := now
	switch {
	case m.CreatedAt != nil:
		created = time.UnixMilli(*m.CreatedAt)
	case m.Timestamp != nil:
		if ts, err := time.Parse(time.RFC3339Nano, *m.Timestamp); err == nil {
			created = ts
		}
	}
	updated := created
	if m.UpdatedAt != nil {
		updated = time.UnixMilli(*m.UpdatedAt)
	}

	msg := domain.Message{
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		SessionID: domain.StorageSessionID(sessionID),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if m.ID != nil && *m.ID != "" {
		msg.ID = *m.ID
	} else {
		msg.ID = fmt.Sprintf("msg-%d-%d", now.UnixMilli(), index)
	}
	if m.Model != nil {
		msg.Model = *m.Model
	}
	if m.Provider != nil {
		msg.Provider = *m.Provider
	}
	if m.ParentID != nil {
		msg.ParentID = *m.ParentID
	}
	if files, ok := m.Metadata["files"].([]any); ok {
		for _, f := range files {
			if s, ok := f.(string); ok {
				msg.Files = append(msg.Files, s)
			}
		}
	}
	return msg
}

// ChatMessage is one entry of a completion prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema constrains a structured-output response.
type JSONSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
	Strict      *bool           `json:"strict,omitempty"`
}

// GenerateJSONParams is a structured-output request.
type GenerateJSONParams struct {
	Messages []ChatMessage   `json:"messages"`
	Model    string          `json:"model"`
	Provider string          `json:"provider,omitempty"`
	Schema   *JSONSchema     `json:"schema,omitempty"`
	Tools    json.RawMessage `json:"tools,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema"`
}

type completionRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	Model          string          `json:"model"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
	Tools          json.RawMessage `json:"tools,omitempty"`
}

// GenerateJSON asks the model for a JSON document and returns it as text.
func (a *AIChatService) GenerateJSON(ctx context.Context, p GenerateJSONParams) (string, error) {
	return dispatch.Do(ctx, a.b.policy, dispatch.OpGenerateJSON,
		func(ctx context.Context) (string, error) {
			req := completionRequest{Messages: p.Messages, Model: p.Model, Tools: p.Tools}
			if p.Schema != nil {
				req.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: p.Schema}
			}

			var raw json.RawMessage
			if err := a.b.rest.Do(ctx, http.MethodPost, "api/openai/chat/completions", req, &raw); err != nil {
				return "", err
			}
			return gjson.GetBytes(raw, "choices.0.message.content").String(), nil
		},
		func(ctx context.Context) (string, error) {
			if a.b.rpc == nil {
				return "", fmt.Errorf("%s: %w", dispatch.OpGenerateJSON, dispatch.ErrUnsupported)
			}
			var out json.RawMessage
			if err := a.b.rpc.Call(rpc.WithoutNotification(ctx), dispatch.OpGenerateJSON.String(), p, &out); err != nil {
				return "", err
			}
			return string(out), nil
		})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
