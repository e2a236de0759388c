package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/chatbridge/internal/backendsync"
	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/service"
)

type fakeBackend struct {
	mu      sync.Mutex
	created []service.CreateSessionParams
	removed []string
	metas   map[string]domain.SessionMeta
	list    *domain.SessionList
	fail    error
	seen    func()
}

func (f *fakeBackend) CreateSession(_ context.Context, p service.CreateSessionParams) (string, error) {
	if f.seen != nil {
		f.seen()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.created = append(f.created, p)
	return fmt.Sprintf("ssn_%d", len(f.created)), nil
}

func (f *fakeBackend) RemoveSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeBackend) RemoveAllSessions(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, "*")
	return nil
}

func (f *fakeBackend) GetGroupedSessions(context.Context) (*domain.SessionList, error) {
	return f.list, nil
}

func (f *fakeBackend) UpdateSessionMeta(_ context.Context, id string, meta domain.SessionMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metas == nil {
		f.metas = make(map[string]domain.SessionMeta)
	}
	f.metas[id] = meta
	return nil
}

func TestCreateFocusAndHooks(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	store := New(backend, nil)

	type ctxKey struct{}
	var hooked []string
	store.OnCreate(func(ctx context.Context, s *domain.Session) {
		if ctx.Value(ctxKey{}) != "marker" {
			t.Errorf("hook must receive the create context")
		}
		hooked = append(hooked, s.ID)
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	session, err := store.Create(ctx, domain.AgentConfig{Model: "gpt-4o"}, domain.SessionMeta{Title: "One"}, true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.ID != "ssn_1" || store.ActiveID() != "ssn_1" {
		t.Fatalf("expected focused ssn_1, got id=%s active=%s", session.ID, store.ActiveID())
	}

	id, err := store.CreateBackground(ctx, domain.SessionDraft{Meta: domain.SessionMeta{Title: "Two"}})
	if err != nil {
		t.Fatalf("CreateBackground failed: %v", err)
	}
	if store.ActiveID() != "ssn_1" {
		t.Fatalf("background create must not change focus, got %s", store.ActiveID())
	}
	if len(hooked) != 2 || hooked[1] != id {
		t.Fatalf("expected hooks for both sessions, got %v", hooked)
	}
	if len(store.List()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(store.List()))
	}
}

func TestCreateShowsOptimisticSession(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	store := New(backend, nil)

	var during []domain.Session
	backend.seen = func() { during = store.List() }

	if _, err := store.Create(context.Background(), domain.AgentConfig{}, domain.SessionMeta{Title: "One"}, false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(during) != 1 || !strings.HasPrefix(during[0].ID, optimisticPrefix) {
		t.Fatalf("expected an optimistic session during create, got %+v", during)
	}
	if _, ok := store.Get(during[0].ID); ok {
		t.Fatal("optimistic session must be replaced")
	}
}

func TestCreateFailureRollsBack(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{fail: errors.New("backend down")}
	store := New(backend, nil)
	called := false
	store.OnCreate(func(context.Context, *domain.Session) { called = true })

	if _, err := store.Create(context.Background(), domain.AgentConfig{}, domain.SessionMeta{}, true); err == nil {
		t.Fatal("expected error")
	}
	if len(store.List()) != 0 || called || store.ActiveID() != domain.InboxSessionID {
		t.Fatalf("failed create must leave no trace, got sessions=%d hook=%v active=%s", len(store.List()), called, store.ActiveID())
	}
}

func TestRemoveResetsFocus(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	store := New(backend, nil)
	session, _ := store.Create(context.Background(), domain.AgentConfig{}, domain.SessionMeta{}, true)

	if err := store.Remove(context.Background(), session.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if store.ActiveID() != domain.InboxSessionID {
		t.Fatalf("expected inbox focus, got %s", store.ActiveID())
	}
	if _, ok := store.Get(session.ID); ok {
		t.Fatal("expected session removed")
	}
	if err := store.Activate("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{list: &domain.SessionList{
		Sessions:      []domain.Session{{ID: "a"}, {ID: "b"}},
		SessionGroups: []domain.SessionGroup{{ID: "g", Name: "Work"}},
	}}
	store := New(backend, nil)
	_ = store.Activate(domain.InboxSessionID)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(store.List()) != 2 || len(store.Groups()) != 1 {
		t.Fatalf("unexpected state sessions=%d groups=%d", len(store.List()), len(store.Groups()))
	}
}

type fakeAgents struct {
	mu      sync.Mutex
	agents  []domain.Agent
	creates int
}

func (f *fakeAgents) ListAgents(context.Context) ([]domain.Agent, error) {
	return f.agents, nil
}

func (f *fakeAgents) CreateAgent(_ context.Context, in domain.AgentCreate) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return &domain.Agent{ID: int64(500 + f.creates), Name: in.Name}, nil
}

func TestForwardSyncAndBackfillThroughHook(t *testing.T) {
	t.Parallel()

	agents := &fakeAgents{agents: []domain.Agent{{ID: 7, Name: "Remote"}}}
	store := New(&fakeBackend{}, nil)
	rec := backendsync.New(agents, store, true, nil)
	store.OnCreate(rec.SyncLocalToRemoteBestEffort)

	ctx := context.Background()

	report, err := rec.BackfillFromRemote(ctx)
	if err != nil || report.Created != 1 {
		t.Fatalf("expected 1 backfilled session, got %+v err=%v", report, err)
	}
	if agents.creates != 0 {
		t.Fatalf("backfilled session must not be pushed back, got %d creates", agents.creates)
	}
	if id, ok := rec.GetBackendAgentID("ssn_1"); !ok || id != 7 {
		t.Fatalf("expected ssn_1 -> 7, got %d ok=%v", id, ok)
	}

	session, err := store.Create(ctx, domain.AgentConfig{}, domain.SessionMeta{Title: "Local"}, true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if agents.creates != 1 {
		t.Fatalf("expected one forward sync, got %d", agents.creates)
	}
	if id, ok := rec.GetBackendAgentID(session.ID); !ok || id != 501 {
		t.Fatalf("expected %s -> 501, got %d ok=%v", session.ID, id, ok)
	}
}

func newSyncedStore(backend *fakeBackend, agents *fakeAgents) (*Store, *backendsync.Reconciler) {
	store := New(backend, nil)
	rec := backendsync.New(agents, store, true, nil)
	store.OnCreate(rec.SyncLocalToRemoteBestEffort)
	store.OnRemove(rec.ForgetBestEffort)
	return store, rec
}

func sessionsForAgent(store *Store, agentID int64) int {
	n := 0
	for _, s := range store.List() {
		if s.Meta.BackendAgentID == agentID {
			n++
		}
	}
	return n
}

func TestSignOutThenBackfillKeepsOneSessionPerAgent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	agents := &fakeAgents{agents: []domain.Agent{{ID: 7, Name: "Remote"}}}
	store, rec := newSyncedStore(backend, agents)
	ctx := context.Background()

	if _, err := rec.BackfillFromRemote(ctx); err != nil {
		t.Fatalf("BackfillFromRemote failed: %v", err)
	}
	rec.Reset()
	report, err := rec.BackfillFromRemote(ctx)
	if err != nil {
		t.Fatalf("BackfillFromRemote failed: %v", err)
	}

	if report.Created != 0 {
		t.Fatalf("expected no new sessions after sign-in, got %+v", report)
	}
	if n := sessionsForAgent(store, 7); n != 1 {
		t.Fatalf("expected 1 local session for agent 7, got %d", n)
	}
	if len(backend.created) != 1 {
		t.Fatalf("expected 1 backend create, got %d", len(backend.created))
	}
	if snapshot := rec.Snapshot(); len(snapshot) != 1 || snapshot["ssn_1"] != 7 {
		t.Fatalf("expected ssn_1 -> 7, got %v", snapshot)
	}
}

func TestRestartRebuildsMappingFromMetadata(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{list: &domain.SessionList{Sessions: []domain.Session{
		{ID: "ssn_saved", Type: domain.SessionTypeAgent, Meta: domain.SessionMeta{Title: "Remote", BackendAgentID: 7}},
	}}}
	agents := &fakeAgents{agents: []domain.Agent{{ID: 7, Name: "Remote"}}}
	store, rec := newSyncedStore(backend, agents)
	ctx := context.Background()

	if err := store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	report, err := rec.BackfillFromRemote(ctx)
	if err != nil {
		t.Fatalf("BackfillFromRemote failed: %v", err)
	}
	if report.Adopted != 1 || report.Created != 0 {
		t.Fatalf("expected 1 adopted and 0 created, got %+v", report)
	}
	if len(backend.created) != 0 {
		t.Fatalf("expected no backend create, got %d", len(backend.created))
	}
	if id, ok := rec.GetBackendAgentID("ssn_saved"); !ok || id != 7 {
		t.Fatalf("expected ssn_saved -> 7, got %d ok=%v", id, ok)
	}
}

func TestForwardSyncStoresAgentAndRemoveForgetsIt(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	store, rec := newSyncedStore(backend, &fakeAgents{})
	ctx := context.Background()

	session, err := store.Create(ctx, domain.AgentConfig{}, domain.SessionMeta{Title: "Local"}, true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	saved, ok := store.Get(session.ID)
	if !ok || saved.Meta.BackendAgentID != 501 {
		t.Fatalf("expected agent 501 on the session, got %+v", saved)
	}
	if backend.metas[session.ID].BackendAgentID != 501 {
		t.Fatalf("expected agent id persisted, got %+v", backend.metas)
	}

	if err := store.Remove(ctx, session.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := rec.GetBackendAgentID(session.ID); ok {
		t.Fatal("expected mapping dropped with the session")
	}
	if len(rec.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot, got %v", rec.Snapshot())
	}
}

func TestRemoveAllClearsRegistryAndMappings(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	store, rec := newSyncedStore(backend, &fakeAgents{})
	ctx := context.Background()

	for _, title := range []string{"One", "Two"} {
		if _, err := store.Create(ctx, domain.AgentConfig{}, domain.SessionMeta{Title: title}, true); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if len(rec.Snapshot()) != 2 {
		t.Fatalf("expected 2 mappings, got %v", rec.Snapshot())
	}

	if err := store.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if len(store.List()) != 0 || store.ActiveID() != domain.InboxSessionID {
		t.Fatalf("expected empty registry, got %d sessions active=%s", len(store.List()), store.ActiveID())
	}
	if len(rec.Snapshot()) != 0 {
		t.Fatalf("expected no mappings, got %v", rec.Snapshot())
	}
}
