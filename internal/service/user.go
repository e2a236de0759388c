package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ashureev/chatbridge/internal/dispatch"
)

const preferencesEndpoint = "api/user/preferences"

// syncedPreferenceKeys are the preference fields the external backend keeps.
var syncedPreferenceKeys = []string{"useCmdEnterToSend", "guide", "lab", "telemetry"}

// UserService manages user preferences and settings. Every update lands
// in the in-process cache first and is then written to one backend.
type UserService struct {
	b *Backends

	mu          sync.RWMutex
	preferences []byte
	settings    []byte
}

// NewUserService creates a user service.
func NewUserService(b *Backends) *UserService {
	return &UserService{
		b:           b,
		preferences: []byte(`{}`),
		settings:    []byte(`{}`),
	}
}

// Preferences returns the cached preferences.
func (u *UserService) Preferences() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return decodeObject(u.preferences)
}

// Settings returns the cached settings.
func (u *UserService) Settings() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return decodeObject(u.settings)
}

// UpdatePreference merges patch into the preferences. In external mode the
// backend write is best effort and its failure is only logged.
func (u *UserService) UpdatePreference(ctx context.Context, patch map[string]any) error {
	if err := u.mergeCache(&u.preferences, patch); err != nil {
		return err
	}

	body, err := backendPreferences(patch)
	if err != nil {
		return err
	}

	return u.bestEffort(ctx, dispatch.OpUpdatePreference,
		func(ctx context.Context) error {
			if body == nil {
				return nil
			}
			return u.b.rest.Do(ctx, http.MethodPut, preferencesEndpoint, body, nil)
		}, patch)
}

// UpdateSettings merges patch into the settings.
func (u *UserService) UpdateSettings(ctx context.Context, patch map[string]any) error {
	if err := u.mergeCache(&u.settings, patch); err != nil {
		return err
	}

	body, err := sjson.SetBytes([]byte(`{}`), "settings", patch)
	if err != nil {
		return fmt.Errorf("build settings payload: %w", err)
	}

	return u.bestEffort(ctx, dispatch.OpUpdateSettings,
		func(ctx context.Context) error {
			return u.b.rest.Do(ctx, http.MethodPut, preferencesEndpoint, json.RawMessage(body), nil)
		}, patch)
}

// ResetSettings clears the settings.
func (u *UserService) ResetSettings(ctx context.Context) error {
	u.mu.Lock()
	u.settings = []byte(`{}`)
	u.mu.Unlock()

	return u.bestEffort(ctx, dispatch.OpResetSettings,
		func(ctx context.Context) error {
			return u.b.rest.Do(ctx, http.MethodDelete, preferencesEndpoint, nil, nil)
		}, nil)
}

// LoadPreferencesFromBackend fetches the synced preference fields from the
// external backend and merges them into the cache. It returns nil in local
// mode and when the fetch fails.
func (u *UserService) LoadPreferencesFromBackend(ctx context.Context) map[string]any {
	raw := u.loadRemote(ctx)
	if raw == nil {
		return nil
	}

	prefs := map[string]any{}
	doc := gjson.ParseBytes(raw)
	for _, key := range syncedPreferenceKeys {
		if v := doc.Get(key); v.Exists() && v.Type != gjson.Null {
			prefs[key] = v.Value()
		}
	}

	if err := u.mergeCache(&u.preferences, prefs); err != nil {
		u.b.logger.Warn("Failed to cache backend preferences", "error", err)
	}
	return prefs
}

// LoadSettingsFromBackend fetches the settings stored with the external
// preferences. It returns nil in local mode, on failure, and when the
// backend has no settings.
func (u *UserService) LoadSettingsFromBackend(ctx context.Context) map[string]any {
	raw := u.loadRemote(ctx)
	if raw == nil {
		return nil
	}

	v := gjson.GetBytes(raw, "settings")
	if !v.IsObject() {
		return nil
	}
	settings, _ := v.Value().(map[string]any)

	if err := u.mergeCache(&u.settings, settings); err != nil {
		u.b.logger.Warn("Failed to cache backend settings", "error", err)
	}
	return settings
}

func (u *UserService) loadRemote(ctx context.Context) []byte {
	raw, err := dispatch.Do(ctx, u.b.policy, dispatch.OpLoadPreferences,
		func(ctx context.Context) (json.RawMessage, error) {
			var out json.RawMessage
			err := u.b.rest.Do(ctx, http.MethodGet, preferencesEndpoint, nil, &out)
			return out, err
		},
		func(context.Context) (json.RawMessage, error) {
			return nil, nil
		})
	if err != nil {
		u.b.logger.Warn("Failed to load preferences from backend", "error", err)
		return nil
	}
	if !gjson.ValidBytes(raw) {
		return nil
	}
	return raw
}

// bestEffort writes to exactly one backend. External failures, including
// a missing token, are logged and swallowed; local failures propagate.
func (u *UserService) bestEffort(ctx context.Context, op dispatch.Operation, external func(ctx context.Context) error, input any) error {
	err := dispatch.Exec(ctx, u.b.policy, op,
		func(ctx context.Context) error {
			if err := external(ctx); err != nil {
				u.b.logger.Warn("Failed to sync user data to backend", "operation", op.String(), "error", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			if u.b.rpc == nil {
				return fmt.Errorf("%s: %w", op, dispatch.ErrUnsupported)
			}
			return u.b.rpc.Call(ctx, op.String(), input, nil)
		})
	if err != nil && u.b.policy.External() {
		u.b.logger.Debug("Skipped backend sync", "operation", op.String(), "error", err)
		return nil
	}
	return err
}

func (u *UserService) mergeCache(target *[]byte, patch map[string]any) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	doc := *target
	for key, value := range patch {
		next, err := sjson.SetBytes(doc, escapeKey(key), value)
		if err != nil {
			return fmt.Errorf("merge %q: %w", key, err)
		}
		doc = next
	}
	*target = doc
	return nil
}

// backendPreferences keeps only the fields the external backend stores.
// It returns nil when none are present.
func backendPreferences(patch map[string]any) (json.RawMessage, error) {
	body := []byte(`{}`)
	found := false
	for _, key := range syncedPreferenceKeys {
		value, ok := patch[key]
		if !ok || value == nil {
			continue
		}
		next, err := sjson.SetBytes(body, key, value)
		if err != nil {
			return nil, fmt.Errorf("build preferences payload: %w", err)
		}
		body = next
		found = true
	}
	if !found {
		return nil, nil
	}
	return body, nil
}

func decodeObject(raw []byte) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}
