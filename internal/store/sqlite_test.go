package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatbridge/internal/domain"
)

func newTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(path, nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	if s.IsAuthenticated(ctx) {
		t.Fatal("fresh store must not be authenticated")
	}

	if err := s.SetToken(ctx, "tok-1"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	token, ok, err := s.GetToken(ctx)
	if err != nil || !ok || token != "tok-1" {
		t.Fatalf("expected tok-1, got %q ok=%v err=%v", token, ok, err)
	}
	if !s.IsAuthenticated(ctx) {
		t.Fatal("expected authenticated after SetToken")
	}

	if err := s.ClearToken(ctx); err != nil {
		t.Fatalf("ClearToken failed: %v", err)
	}
	if s.IsAuthenticated(ctx) {
		t.Fatal("expected unauthenticated after ClearToken")
	}
}

func TestUserProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	user, err := s.GetUser(ctx)
	if err != nil || user != nil {
		t.Fatalf("expected nil user, got %+v err=%v", user, err)
	}

	want := &domain.UserProfile{ID: 3, Name: "Ada", Email: "ada@example.com", IsActive: true}
	if err := s.SetUser(ctx, want); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
	got, err := s.GetUser(ctx)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || *got != *want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := s.put(ctx, KeyUser, "{not json"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err = s.GetUser(ctx)
	if err != nil || got != nil {
		t.Fatalf("corrupt profile must read as nil, got %+v err=%v", got, err)
	}
}

func TestClearRemovesBothKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	_ = s.SetToken(ctx, "tok")
	_ = s.SetUser(ctx, &domain.UserProfile{ID: 1})

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.IsAuthenticated(ctx) {
		t.Fatal("expected token removed")
	}
	if u, _ := s.GetUser(ctx); u != nil {
		t.Fatalf("expected user removed, got %+v", u)
	}
}

func TestSubscribeReceivesLocalWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_ = s.SetToken(ctx, "tok")
	_ = s.SetToken(ctx, "tok") // unchanged value, no event
	_ = s.ClearToken(ctx)

	for i, want := range []string{KeyToken, KeyToken} {
		select {
		case ev := <-events:
			if ev.Key != want {
				t.Fatalf("event %d: expected key %s, got %s", i, want, ev.Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d: timed out", i)
		}
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	events, unsubscribe := s.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}

func TestWatchSeesWritesFromAnotherProcess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	tab1 := newTestStore(t, path)
	tab2 := newTestStore(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := tab1.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- tab1.Watch(ctx, 10*time.Millisecond) }()

	// Give the watcher time to read its starting data_version.
	time.Sleep(50 * time.Millisecond)

	if err := tab2.SetToken(context.Background(), "from-tab-2"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Key != KeyToken {
			t.Fatalf("expected token change, got %s", ev.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-process change event")
	}

	if !tab1.IsAuthenticated(context.Background()) {
		t.Fatal("tab1 must observe the token written by tab2")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
}

func TestNewSQLiteCreatesDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	newTestStore(t, filepath.Join(dir, "state.db"))

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}
