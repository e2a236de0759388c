package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ashureev/chatbridge/internal/config"
)

type staticTokens bool

func (s staticTokens) IsAuthenticated(context.Context) bool { return bool(s) }

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode     Mode
		hasToken bool
		want     Target
	}{
		{ModeLocal, false, TargetLocal},
		{ModeLocal, true, TargetLocal},
		{ModeExternal, true, TargetExternal},
		{ModeExternal, false, TargetUnauthenticated},
	}

	for _, op := range []Operation{OpSendMessage, OpGetGroupedSessions, OpUpdateMessage, OpRemoveAllTopics} {
		for _, tt := range tests {
			if got := Route(op, tt.mode, tt.hasToken); got != tt.want {
				t.Errorf("Route(%s, %s, %v) = %s, want %s", op, tt.mode, tt.hasToken, got, tt.want)
			}
		}
	}
}

func TestModeFromConfig(t *testing.T) {
	t.Parallel()

	if got := ModeFromConfig(&config.Config{CustomAuthEnabled: true}); got != ModeExternal {
		t.Fatalf("expected external, got %s", got)
	}
	if got := ModeFromConfig(&config.Config{}); got != ModeLocal {
		t.Fatalf("expected local, got %s", got)
	}
}

type calls struct {
	external atomic.Int32
	local    atomic.Int32
}

func (c *calls) externalFn(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		c.external.Add(1)
		return "external", err
	}
}

func (c *calls) localFn(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		c.local.Add(1)
		return "local", err
	}
}

func TestExternalFailureNeverFallsBack(t *testing.T) {
	t.Parallel()

	p := NewPolicy(ModeExternal, staticTokens(true), nil)
	boom := errors.New("backend down")
	c := &calls{}

	_, err := Do(context.Background(), p, OpSendMessage, c.externalFn(boom), c.localFn(nil))
	if !errors.Is(err, boom) {
		t.Fatalf("expected external error to propagate unchanged, got %v", err)
	}
	if c.external.Load() != 1 {
		t.Fatalf("expected one external call, got %d", c.external.Load())
	}
	if c.local.Load() != 0 {
		t.Fatalf("local backend must not be called in external mode, got %d calls", c.local.Load())
	}
}

func TestLocalModeNeverReachesExternal(t *testing.T) {
	t.Parallel()

	p := NewPolicy(ModeLocal, staticTokens(true), nil)
	c := &calls{}

	got, err := Do(context.Background(), p, OpGetMessages, c.externalFn(nil), c.localFn(nil))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != "local" {
		t.Fatalf("expected local result, got %q", got)
	}
	if c.external.Load() != 0 {
		t.Fatalf("external backend must not be called in local mode, got %d calls", c.external.Load())
	}
}

func TestExternalWithoutTokenCallsNothing(t *testing.T) {
	t.Parallel()

	p := NewPolicy(ModeExternal, staticTokens(false), nil)
	c := &calls{}

	_, err := Do(context.Background(), p, OpCreateTopic, c.externalFn(nil), c.localFn(nil))
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if c.external.Load()+c.local.Load() != 0 {
		t.Fatalf("expected no backend calls, got external=%d local=%d", c.external.Load(), c.local.Load())
	}
}

func TestDecideRereadsTokenEveryCall(t *testing.T) {
	t.Parallel()

	var authed atomic.Bool
	p := NewPolicy(ModeExternal, tokenFunc(func() bool { return authed.Load() }), nil)

	if _, err := p.Decide(context.Background(), OpGetTopics); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before login, got %v", err)
	}
	authed.Store(true)
	target, err := p.Decide(context.Background(), OpGetTopics)
	if err != nil || target != TargetExternal {
		t.Fatalf("expected external after login, got %s err=%v", target, err)
	}
}

func TestExecUnsupported(t *testing.T) {
	t.Parallel()

	p := NewPolicy(ModeExternal, staticTokens(true), nil)
	var localCalled bool
	err := Exec(context.Background(), p, OpCountSessions, nil, func(context.Context) error {
		localCalled = true
		return nil
	})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if localCalled {
		t.Fatal("a missing external implementation must not route to local")
	}
}

type tokenFunc func() bool

func (f tokenFunc) IsAuthenticated(context.Context) bool { return f() }
