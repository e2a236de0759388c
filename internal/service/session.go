package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/notify"
)

const defaultGroupID = "default"

// SessionService manages chat sessions and session groups.
type SessionService struct {
	b *Backends
}

// NewSessionService creates a session service.
func NewSessionService(b *Backends) *SessionService {
	return &SessionService{b: b}
}

// CreateSessionParams describes a new session.
type CreateSessionParams struct {
	Type   domain.SessionType `json:"type"`
	Group  string             `json:"group,omitempty"`
	Config domain.AgentConfig `json:"config"`
	Meta   domain.SessionMeta `json:"meta"`
}

// UpdateSessionParams is a partial session update. Nil fields are left
// unchanged.
type UpdateSessionParams struct {
	Group  *string             `json:"group,omitempty"`
	Pinned *bool               `json:"pinned,omitempty"`
	Meta   *domain.SessionMeta `json:"meta,omitempty"`
}

// SessionGroupUpdate is a partial session group update.
type SessionGroupUpdate struct {
	Name *string `json:"name,omitempty"`
	Sort *int    `json:"sort,omitempty"`
}

// SortEntry positions one session group.
type SortEntry struct {
	ID   string `json:"id"`
	Sort int    `json:"sort"`
}

// CreateSession creates a session and returns its id.
func (s *SessionService) CreateSession(ctx context.Context, p CreateSessionParams) (string, error) {
	if p.Type == "" {
		p.Type = domain.SessionTypeAgent
	}

	// The local service stores meta fields inside the config.
	config, err := mergeObjects(p.Config, p.Meta)
	if err != nil {
		return "", err
	}
	input := map[string]any{
		"config":  config,
		"session": map[string]any{"groupId": groupID(p.Group)},
		"type":    p.Type,
	}

	return createID(ctx, s.b, dispatch.OpCreateSession,
		restCall{method: http.MethodPost, endpoint: "api/sessions", body: p}, input)
}

// CloneSession duplicates a session under a new title.
func (s *SessionService) CloneSession(ctx context.Context, id, newTitle string) (string, error) {
	body := map[string]any{"newTitle": newTitle}
	input := map[string]any{"id": id, "newTitle": newTitle}
	return createID(ctx, s.b, dispatch.OpCloneSession,
		restCall{method: http.MethodPost, endpoint: pathID("api/sessions", id) + "/clone", body: body}, input)
}

// GetGroupedSessions lists sessions with their groups.
func (s *SessionService) GetGroupedSessions(ctx context.Context) (*domain.SessionList, error) {
	list, err := call[domain.SessionList](ctx, s.b, dispatch.OpGetGroupedSessions,
		restCall{method: http.MethodGet, endpoint: "api/sessions/grouped"}, nil)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// CountSessions counts sessions in the optional date range.
func (s *SessionService) CountSessions(ctx context.Context, r DateRange) (int, error) {
	return call[int](ctx, s.b, dispatch.OpCountSessions,
		restCall{method: http.MethodGet, endpoint: withQuery("api/sessions/count", r.query())}, r.input())
}

// HasSessions reports whether at least one session exists.
func (s *SessionService) HasSessions(ctx context.Context) (bool, error) {
	n, err := s.CountSessions(ctx, DateRange{})
	return n > 0, err
}

// RankSessions returns the most used sessions.
func (s *SessionService) RankSessions(ctx context.Context, limit int) ([]domain.SessionRank, error) {
	q := url.Values{}
	var input any
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
		input = limit
	}
	return call[[]domain.SessionRank](ctx, s.b, dispatch.OpRankSessions,
		restCall{method: http.MethodGet, endpoint: withQuery("api/sessions/rank", q)}, input)
}

// UpdateSession changes the group, pin state or meta of a session.
func (s *SessionService) UpdateSession(ctx context.Context, id string, p UpdateSessionParams) error {
	value := map[string]any{}
	if p.Group != nil {
		value["groupId"] = groupID(*p.Group)
	}
	if p.Pinned != nil {
		value["pinned"] = *p.Pinned
	}
	var local any = value
	if p.Meta != nil {
		merged, err := mergeObjects(value, p.Meta)
		if err != nil {
			return err
		}
		local = merged
	}

	return exec(ctx, s.b, dispatch.OpUpdateSession,
		restCall{method: http.MethodPut, endpoint: pathID("api/sessions", id), body: p},
		map[string]any{"id": id, "value": local})
}

// UpdateSessionConfig patches the agent configuration. Failures are not
// announced to the user; the caller decides.
func (s *SessionService) UpdateSessionConfig(ctx context.Context, id string, config map[string]any) error {
	return exec(notify.Quiet(ctx), s.b, dispatch.OpUpdateSessionConfig,
		restCall{method: http.MethodPut, endpoint: pathID("api/sessions", id) + "/config", body: config},
		map[string]any{"id": id, "value": config})
}

// UpdateSessionMeta patches display metadata through the config endpoint.
func (s *SessionService) UpdateSessionMeta(ctx context.Context, id string, meta domain.SessionMeta) error {
	return exec(ctx, s.b, dispatch.OpUpdateSessionConfig,
		restCall{method: http.MethodPut, endpoint: pathID("api/sessions", id) + "/config", body: meta},
		map[string]any{"id": id, "value": meta})
}

// UpdateSessionChatConfig patches the chat configuration.
func (s *SessionService) UpdateSessionChatConfig(ctx context.Context, id string, value map[string]any) error {
	return exec(ctx, s.b, dispatch.OpUpdateSessionChatConfig,
		restCall{method: http.MethodPut, endpoint: pathID("api/sessions", id) + "/chat-config", body: value},
		map[string]any{"id": id, "value": value})
}

// SearchSessions finds sessions by keyword.
func (s *SessionService) SearchSessions(ctx context.Context, keywords string) ([]domain.Session, error) {
	q := url.Values{"keywords": {keywords}}
	return call[[]domain.Session](ctx, s.b, dispatch.OpSearchSessions,
		restCall{method: http.MethodGet, endpoint: withQuery("api/sessions/search", q)},
		map[string]any{"keywords": keywords})
}

// RemoveSession deletes a session.
func (s *SessionService) RemoveSession(ctx context.Context, id string) error {
	return exec(ctx, s.b, dispatch.OpRemoveSession,
		restCall{method: http.MethodDelete, endpoint: pathID("api/sessions", id)},
		map[string]any{"id": id})
}

// RemoveAllSessions deletes every session.
func (s *SessionService) RemoveAllSessions(ctx context.Context) error {
	return exec(ctx, s.b, dispatch.OpRemoveAllSessions,
		restCall{method: http.MethodDelete, endpoint: "api/sessions"}, nil)
}

// CreateSessionGroup creates a group and returns its id.
func (s *SessionService) CreateSessionGroup(ctx context.Context, name string, sort *int) (string, error) {
	body := map[string]any{"name": name}
	if sort != nil {
		body["sort"] = *sort
	}
	return createID(ctx, s.b, dispatch.OpCreateSessionGroup,
		restCall{method: http.MethodPost, endpoint: "api/session-groups", body: body}, body)
}

// RemoveSessionGroup deletes a group, optionally with its sessions.
func (s *SessionService) RemoveSessionGroup(ctx context.Context, id string, removeChildren bool) error {
	q := url.Values{}
	if removeChildren {
		q.Set("removeChildren", "true")
	}
	return exec(ctx, s.b, dispatch.OpRemoveSessionGroup,
		restCall{method: http.MethodDelete, endpoint: withQuery(pathID("api/session-groups", id), q)},
		map[string]any{"id": id, "removeChildren": removeChildren})
}

// RemoveAllSessionGroups deletes every group.
func (s *SessionService) RemoveAllSessionGroups(ctx context.Context) error {
	return exec(ctx, s.b, dispatch.OpRemoveAllSessionGroups,
		restCall{method: http.MethodDelete, endpoint: "api/session-groups"}, nil)
}

// UpdateSessionGroup renames or repositions a group.
func (s *SessionService) UpdateSessionGroup(ctx context.Context, id string, value SessionGroupUpdate) error {
	return exec(ctx, s.b, dispatch.OpUpdateSessionGroup,
		restCall{method: http.MethodPut, endpoint: pathID("api/session-groups", id), body: value},
		map[string]any{"id": id, "value": value})
}

// UpdateSessionGroupOrder sets the sort position of several groups.
func (s *SessionService) UpdateSessionGroupOrder(ctx context.Context, order []SortEntry) error {
	body := map[string]any{"sortMap": order}
	return exec(ctx, s.b, dispatch.OpUpdateSessionGroupOrder,
		restCall{method: http.MethodPut, endpoint: "api/session-groups/order", body: body}, body)
}

// groupID maps the implicit default group to null.
func groupID(group string) *string {
	if group == "" || group == defaultGroupID {
		return nil
	}
	return &group
}
