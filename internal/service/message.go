package service

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
)

// MessageService manages chat messages.
type MessageService struct {
	b *Backends
}

// NewMessageService creates a message service.
func NewMessageService(b *Backends) *MessageService {
	return &MessageService{b: b}
}

// CreateMessageParams describes a new message. SessionID is the UI id;
// the inbox session is stored as null.
type CreateMessageParams struct {
	Role      domain.MessageRole `json:"role"`
	Content   string             `json:"content"`
	SessionID string             `json:"-"`
	TopicID   *string            `json:"topicId,omitempty"`
	ThreadID  *string            `json:"threadId,omitempty"`
	ParentID  string             `json:"parentId,omitempty"`
	Model     string             `json:"model,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	Files     []string           `json:"files,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// MessageScope narrows message updates and deletes to a session and topic.
type MessageScope struct {
	SessionID string
	TopicID   *string
}

func (s MessageScope) query() url.Values {
	q := url.Values{}
	setSessionID(q, s.SessionID)
	setOptional(q, "topicId", s.TopicID)
	return q
}

func (s MessageScope) fields(m map[string]any) map[string]any {
	m["sessionId"] = domain.StorageSessionID(s.SessionID)
	m["topicId"] = s.TopicID
	return m
}

// CreateMessage stores a message and returns its id.
func (m *MessageService) CreateMessage(ctx context.Context, p CreateMessageParams) (string, error) {
	payload, err := mergeObjects(p, map[string]any{"sessionId": domain.StorageSessionID(p.SessionID)})
	if err != nil {
		return "", err
	}
	return createID(ctx, m.b, dispatch.OpCreateMessage,
		restCall{method: http.MethodPost, endpoint: "api/messages", body: payload}, payload)
}

// GetMessages lists the messages of a session, optionally within a topic.
func (m *MessageService) GetMessages(ctx context.Context, sessionID string, topicID *string) ([]domain.Message, error) {
	scope := MessageScope{SessionID: sessionID, TopicID: topicID}
	return call[[]domain.Message](ctx, m.b, dispatch.OpGetMessages,
		restCall{method: http.MethodGet, endpoint: withQuery("api/messages", scope.query())},
		scope.fields(map[string]any{}))
}

// CountMessages counts messages in the optional date range.
func (m *MessageService) CountMessages(ctx context.Context, r DateRange) (int, error) {
	return call[int](ctx, m.b, dispatch.OpCountMessages,
		restCall{method: http.MethodGet, endpoint: withQuery("api/messages/count", r.query())}, r.input())
}

// UpdateMessage patches a message.
func (m *MessageService) UpdateMessage(ctx context.Context, id string, value map[string]any, scope MessageScope) error {
	return exec(ctx, m.b, dispatch.OpUpdateMessage,
		restCall{method: http.MethodPut, endpoint: withQuery(pathID("api/messages", id), scope.query()), body: value},
		scope.fields(map[string]any{"id": id, "value": value}))
}

// UpdateMessageMetadata merges metadata into a message.
func (m *MessageService) UpdateMessageMetadata(ctx context.Context, id string, metadata map[string]any, scope MessageScope) error {
	return exec(ctx, m.b, dispatch.OpUpdateMessageMetadata,
		restCall{method: http.MethodPut, endpoint: withQuery(pathID("api/messages", id)+"/metadata", scope.query()), body: metadata},
		scope.fields(map[string]any{"id": id, "value": metadata}))
}

// RemoveMessage deletes one message.
func (m *MessageService) RemoveMessage(ctx context.Context, id string, scope MessageScope) error {
	return exec(ctx, m.b, dispatch.OpRemoveMessage,
		restCall{method: http.MethodDelete, endpoint: withQuery(pathID("api/messages", id), scope.query())},
		scope.fields(map[string]any{"id": id}))
}

// RemoveMessages deletes several messages.
func (m *MessageService) RemoveMessages(ctx context.Context, ids []string, scope MessageScope) error {
	return exec(ctx, m.b, dispatch.OpRemoveMessages,
		restCall{method: http.MethodDelete, endpoint: withQuery("api/messages/batch", scope.query()), body: map[string]any{"ids": ids}},
		scope.fields(map[string]any{"ids": ids}))
}

// RemoveMessagesByAssistant deletes every message of a session, optionally
// limited to one topic.
func (m *MessageService) RemoveMessagesByAssistant(ctx context.Context, sessionID string, topicID *string) error {
	q := url.Values{}
	setOptional(q, "topicId", topicID)
	scope := MessageScope{SessionID: sessionID, TopicID: topicID}
	return exec(ctx, m.b, dispatch.OpRemoveMessagesByAssistant,
		restCall{method: http.MethodDelete, endpoint: withQuery(pathID("api/messages/by-assistant", sessionID), q)},
		scope.fields(map[string]any{}))
}

// RemoveAllMessages deletes every message.
func (m *MessageService) RemoveAllMessages(ctx context.Context) error {
	return exec(ctx, m.b, dispatch.OpRemoveAllMessages,
		restCall{method: http.MethodDelete, endpoint: "api/messages"}, nil)
}
