// Package authsync keeps every UI tab's view of the signed-in user current.
package authsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/store"
)

// DefaultRecheckInterval is how often the profile is refreshed without a
// credential change.
const DefaultRecheckInterval = time.Minute

// State is the auth state shown to the UI.
type State struct {
	Loaded   bool                `json:"loaded"`
	SignedIn bool                `json:"signedIn"`
	User     *domain.UserProfile `json:"user,omitempty"`
}

func (s State) equal(o State) bool {
	if s.Loaded != o.Loaded || s.SignedIn != o.SignedIn {
		return false
	}
	if s.User == nil || o.User == nil {
		return s.User == o.User
	}
	return *s.User == *o.User
}

// Profiles is the auth service as seen by the watcher.
type Profiles interface {
	IsAuthenticated(ctx context.Context) bool
	CurrentUser(ctx context.Context) (*domain.UserProfile, error)
	CachedUser(ctx context.Context) (*domain.UserProfile, error)
}

// Listener receives every state change.
type Listener func(State)

// Watcher re-derives the auth state when the credential changes and on a
// fixed interval.
type Watcher struct {
	profiles      Profiles
	tokens        store.TokenStore
	interval      time.Duration
	watchInterval time.Duration
	logger        *slog.Logger

	mu        sync.RWMutex
	state     State
	listeners []Listener
}

// NewWatcher creates a watcher. A watchInterval of zero disables polling
// for writes made by other processes.
func NewWatcher(profiles Profiles, tokens store.TokenStore, interval, watchInterval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultRecheckInterval
	}
	return &Watcher{
		profiles:      profiles,
		tokens:        tokens,
		interval:      interval,
		watchInterval: watchInterval,
		logger:        logger,
	}
}

// OnChange registers a listener.
func (w *Watcher) OnChange(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// State returns the last published state.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Start checks the credential once and keeps watching it in the
// background until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	events, unsubscribe := w.tokens.Subscribe()

	if w.watchInterval > 0 {
		go func() {
			if err := w.tokens.Watch(ctx, w.watchInterval); err != nil {
				w.logger.Error("Credential watch stopped", "error", err)
			}
		}()
	}

	w.Recheck(ctx)

	go func() {
		defer unsubscribe()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				w.handleChange(ctx, ev)
			case <-ticker.C:
				w.Recheck(ctx)
			}
		}
	}()
}

// handleChange reacts to a credential write. Token changes trigger a full
// recheck; profile changes only re-read the cache, since refreshing the
// profile writes it.
func (w *Watcher) handleChange(ctx context.Context, ev store.ChangeEvent) {
	switch ev.Key {
	case store.KeyToken:
		w.Recheck(ctx)
	case store.KeyUser:
		current := w.State()
		if !current.SignedIn {
			return
		}
		user, err := w.profiles.CachedUser(ctx)
		if err != nil {
			w.logger.Warn("Failed to read cached user", "error", err)
			return
		}
		w.publish(State{Loaded: true, SignedIn: true, User: user})
	}
}

// Recheck derives the state from the stored token and a fresh profile
// fetch, publishes it if it changed, and returns it.
func (w *Watcher) Recheck(ctx context.Context) State {
	if !w.profiles.IsAuthenticated(ctx) {
		return w.publish(State{Loaded: true})
	}

	user, err := w.profiles.CurrentUser(ctx)
	if err != nil {
		// Keep the last known profile; the token is still present.
		w.logger.Warn("Failed to refresh user profile", "error", err)
		cached, cacheErr := w.profiles.CachedUser(ctx)
		if cacheErr != nil {
			w.logger.Debug("Failed to read cached user", "error", cacheErr)
		}
		return w.publish(State{Loaded: true, SignedIn: true, User: cached})
	}
	if user == nil {
		// The token was rejected and has been cleared.
		return w.publish(State{Loaded: true})
	}
	return w.publish(State{Loaded: true, SignedIn: true, User: user})
}

func (w *Watcher) publish(next State) State {
	w.mu.Lock()
	if w.state.equal(next) {
		w.mu.Unlock()
		return next
	}
	w.state = next
	listeners := make([]Listener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("Auth state changed", "signed_in", next.SignedIn)
	for _, l := range listeners {
		l(next)
	}
	return next
}
