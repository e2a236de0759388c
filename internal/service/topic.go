package service

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
)

// TopicService manages topics and threads.
type TopicService struct {
	b *Backends
}

// NewTopicService creates a topic service.
func NewTopicService(b *Backends) *TopicService {
	return &TopicService{b: b}
}

// CreateTopicParams describes a new topic. Messages are moved into it.
type CreateTopicParams struct {
	Title     string   `json:"title"`
	SessionID string   `json:"-"`
	Messages  []string `json:"messages,omitempty"`
	Favorite  bool     `json:"favorite,omitempty"`
}

// CreateTopic creates a topic and returns its id.
func (t *TopicService) CreateTopic(ctx context.Context, p CreateTopicParams) (string, error) {
	payload, err := mergeObjects(p, map[string]any{"sessionId": domain.StorageSessionID(p.SessionID)})
	if err != nil {
		return "", err
	}
	return createID(ctx, t.b, dispatch.OpCreateTopic,
		restCall{method: http.MethodPost, endpoint: "api/topics", body: payload}, payload)
}

// GetTopics lists the topics of a session.
func (t *TopicService) GetTopics(ctx context.Context, sessionID string) ([]domain.Topic, error) {
	q := url.Values{}
	setSessionID(q, sessionID)
	return call[[]domain.Topic](ctx, t.b, dispatch.OpGetTopics,
		restCall{method: http.MethodGet, endpoint: withQuery("api/topics", q)},
		map[string]any{"sessionId": domain.StorageSessionID(sessionID)})
}

// GetAllTopics lists every topic.
func (t *TopicService) GetAllTopics(ctx context.Context) ([]domain.Topic, error) {
	return call[[]domain.Topic](ctx, t.b, dispatch.OpGetAllTopics,
		restCall{method: http.MethodGet, endpoint: "api/topics/all"}, nil)
}

// CountTopics counts topics in the optional date range.
func (t *TopicService) CountTopics(ctx context.Context, r DateRange) (int, error) {
	return call[int](ctx, t.b, dispatch.OpCountTopics,
		restCall{method: http.MethodGet, endpoint: withQuery("api/topics/count", r.query())}, r.input())
}

// SearchTopics finds topics by keyword, optionally within a session.
func (t *TopicService) SearchTopics(ctx context.Context, keywords, sessionID string) ([]domain.Topic, error) {
	q := url.Values{"keywords": {keywords}}
	setSessionID(q, sessionID)
	return call[[]domain.Topic](ctx, t.b, dispatch.OpSearchTopics,
		restCall{method: http.MethodGet, endpoint: withQuery("api/topics/search", q)},
		map[string]any{"keywords": keywords, "sessionId": domain.StorageSessionID(sessionID)})
}

// UpdateTopic patches a topic.
func (t *TopicService) UpdateTopic(ctx context.Context, id string, value map[string]any) error {
	return exec(ctx, t.b, dispatch.OpUpdateTopic,
		restCall{method: http.MethodPut, endpoint: pathID("api/topics", id), body: value},
		map[string]any{"id": id, "value": value})
}

// RemoveTopic deletes a topic.
func (t *TopicService) RemoveTopic(ctx context.Context, id string) error {
	return exec(ctx, t.b, dispatch.OpRemoveTopic,
		restCall{method: http.MethodDelete, endpoint: pathID("api/topics", id)},
		map[string]any{"id": id})
}

// RemoveTopicsBySession deletes every topic of a session.
func (t *TopicService) RemoveTopicsBySession(ctx context.Context, sessionID string) error {
	return exec(ctx, t.b, dispatch.OpRemoveTopicsBySession,
		restCall{method: http.MethodDelete, endpoint: pathID("api/topics/by-session", sessionID)},
		map[string]any{"id": domain.StorageSessionID(sessionID)})
}

// BatchRemoveTopics deletes several topics.
func (t *TopicService) BatchRemoveTopics(ctx context.Context, ids []string) error {
	body := map[string]any{"ids": ids}
	return exec(ctx, t.b, dispatch.OpBatchRemoveTopics,
		restCall{method: http.MethodDelete, endpoint: "api/topics/batch", body: body}, body)
}

// RemoveAllTopics deletes every topic.
func (t *TopicService) RemoveAllTopics(ctx context.Context) error {
	return exec(ctx, t.b, dispatch.OpRemoveAllTopics,
		restCall{method: http.MethodDelete, endpoint: "api/topics"}, nil)
}

// ThreadService manages threads branched from topic messages.
type ThreadService struct {
	b *Backends
}

// NewThreadService creates a thread service.
func NewThreadService(b *Backends) *ThreadService {
	return &ThreadService{b: b}
}

// CreateThreadParams describes a thread and its first message.
type CreateThreadParams struct {
	TopicID         string              `json:"topicId"`
	SourceMessageID string              `json:"sourceMessageId"`
	ParentThreadID  string              `json:"parentThreadId,omitempty"`
	Type            string              `json:"type"`
	Title           string              `json:"title,omitempty"`
	Message         CreateMessageParams `json:"message"`
}

// ThreadCreated identifies a new thread and its first message.
type ThreadCreated struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

// GetThreads lists the threads of a topic.
func (t *ThreadService) GetThreads(ctx context.Context, topicID string) ([]domain.Thread, error) {
	q := url.Values{"topicId": {topicID}}
	return call[[]domain.Thread](ctx, t.b, dispatch.OpGetThreads,
		restCall{method: http.MethodGet, endpoint: withQuery("api/threads", q)},
		map[string]any{"topicId": topicID})
}

// CreateThreadWithMessage creates a thread together with its first message.
func (t *ThreadService) CreateThreadWithMessage(ctx context.Context, p CreateThreadParams) (*ThreadCreated, error) {
	message, err := mergeObjects(p.Message, map[string]any{"sessionId": domain.StorageSessionID(p.Message.SessionID)})
	if err != nil {
		return nil, err
	}
	payload, err := mergeObjects(p, map[string]any{"message": message})
	if err != nil {
		return nil, err
	}

	created, err := call[ThreadCreated](ctx, t.b, dispatch.OpCreateThreadWithMessage,
		restCall{method: http.MethodPost, endpoint: "api/threads", body: payload}, payload)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateThread patches a thread.
func (t *ThreadService) UpdateThread(ctx context.Context, id string, value map[string]any) error {
	return exec(ctx, t.b, dispatch.OpUpdateThread,
		restCall{method: http.MethodPut, endpoint: pathID("api/threads", id), body: value},
		map[string]any{"id": id, "value": value})
}

// RemoveThread deletes a thread.
func (t *ThreadService) RemoveThread(ctx context.Context, id string) error {
	return exec(ctx, t.b, dispatch.OpRemoveThread,
		restCall{method: http.MethodDelete, endpoint: pathID("api/threads", id)},
		map[string]any{"id": id})
}
