// Package chatstore holds the sessions the UI currently knows about and
// the focused session.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/service"
)

const optimisticPrefix = "tmp_"

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// SessionBackend persists sessions through the active backend.
type SessionBackend interface {
	CreateSession(ctx context.Context, p service.CreateSessionParams) (string, error)
	RemoveSession(ctx context.Context, id string) error
	RemoveAllSessions(ctx context.Context) error
	GetGroupedSessions(ctx context.Context) (*domain.SessionList, error)
	UpdateSessionMeta(ctx context.Context, id string, meta domain.SessionMeta) error
}

// Hook runs after a session was created. It receives the context of the
// create call.
type Hook func(ctx context.Context, s *domain.Session)

// RemoveHook runs after a session was removed.
type RemoveHook func(ctx context.Context, id string)

// Store is the in-memory session registry.
type Store struct {
	backend SessionBackend
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*domain.Session
	groups   []domain.SessionGroup
	active   string
	hooks    []Hook
	onRemove []RemoveHook
}

// New creates an empty store.
func New(backend SessionBackend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*domain.Session),
		active:   domain.InboxSessionID,
	}
}

// OnCreate registers a hook run after every successful create.
func (s *Store) OnCreate(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// OnRemove registers a hook run after every successful remove.
func (s *Store) OnRemove(h RemoveHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemove = append(s.onRemove, h)
}

// Create persists a new agent session and, if focus is set, makes it the
// active one. Hooks run synchronously before Create returns.
func (s *Store) Create(ctx context.Context, config domain.AgentConfig, meta domain.SessionMeta, focus bool) (*domain.Session, error) {
	now := s.now()
	tempID := optimisticPrefix + uuid.NewString()
	session := &domain.Session{
		ID:        tempID,
		Type:      domain.SessionTypeAgent,
		Config:    config,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Visible right away; replaced once the backend assigns the id.
	s.mu.Lock()
	s.sessions[tempID] = session
	s.mu.Unlock()

	id, err := s.backend.CreateSession(ctx, service.CreateSessionParams{
		Type:   domain.SessionTypeAgent,
		Config: config,
		Meta:   meta,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, tempID)
		s.mu.Unlock()
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	delete(s.sessions, tempID)
	session.ID = id
	s.sessions[id] = session
	if focus {
		s.active = id
	}
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	created := *session
	s.mu.Unlock()

	s.logger.Info("Session created", "session_id", id, "focus", focus)

	for _, h := range hooks {
		h(ctx, &created)
	}
	return &created, nil
}

// CreateBackground creates a session without changing the focus.
func (s *Store) CreateBackground(ctx context.Context, draft domain.SessionDraft) (string, error) {
	session, err := s.Create(ctx, draft.Config, draft.Meta, false)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	out := *session
	return &out, true
}

// List returns every session, most recently updated first.
func (s *Store) List() []domain.Session {
	s.mu.RLock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Groups returns the session groups from the last Refresh.
func (s *Store) Groups() []domain.SessionGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionGroup(nil), s.groups...)
}

// ActiveID returns the focused session. It is the inbox when nothing else
// is focused.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Activate focuses a known session.
func (s *Store) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok && id != domain.InboxSessionID {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.active = id
	return nil
}

// Remove deletes a session from the backend and the registry.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.backend.RemoveSession(ctx, id); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.sessions, id)
	if s.active == id {
		s.active = domain.InboxSessionID
	}
	hooks := append([]RemoveHook(nil), s.onRemove...)
	s.mu.Unlock()

	for _, h := range hooks {
		h(ctx, id)
	}
	return nil
}

// RemoveAll deletes every session. Remove hooks run for each one.
func (s *Store) RemoveAll(ctx context.Context) error {
	if err := s.backend.RemoveAllSessions(ctx); err != nil {
		return fmt.Errorf("remove all sessions: %w", err)
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessions = make(map[string]*domain.Session)
	s.active = domain.InboxSessionID
	hooks := append([]RemoveHook(nil), s.onRemove...)
	s.mu.Unlock()

	for _, id := range ids {
		for _, h := range hooks {
			h(ctx, id)
		}
	}
	s.logger.Info("All sessions removed", "count", len(ids))
	return nil
}

// SetBackendAgentID stores the remote agent of a session in its metadata,
// locally and on the backend.
func (s *Store) SetBackendAgentID(ctx context.Context, id string, agentID int64) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	session.Meta.BackendAgentID = agentID
	meta := session.Meta
	s.mu.Unlock()

	if err := s.backend.UpdateSessionMeta(ctx, id, meta); err != nil {
		return fmt.Errorf("store agent id on session %s: %w", id, err)
	}
	return nil
}

// Refresh replaces the registry with the backend's session list. Sessions
// still waiting for their backend id are kept.
func (s *Store) Refresh(ctx context.Context) error {
	list, err := s.backend.GetGroupedSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if list == nil {
		list = &domain.SessionList{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*domain.Session, len(list.Sessions))
	for id, session := range s.sessions {
		if len(id) > len(optimisticPrefix) && id[:len(optimisticPrefix)] == optimisticPrefix {
			next[id] = session
		}
	}
	for i := range list.Sessions {
		session := list.Sessions[i]
		next[session.ID] = &session
	}
	s.sessions = next
	s.groups = list.SessionGroups

	if _, ok := s.sessions[s.active]; !ok {
		s.active = domain.InboxSessionID
	}
	return nil
}
