package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/service"
)

// UserHandler handles preference and settings endpoints.
type UserHandler struct {
	*Handler
	users *service.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(base *Handler, users *service.UserService) *UserHandler {
	return &UserHandler{Handler: base, users: users}
}

// RegisterRoutes registers user routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/user", func(r chi.Router) {
		r.Get("/preferences", h.Preferences)
		r.Patch("/preferences", h.UpdatePreferences)
		r.Post("/preferences/sync", h.SyncPreferences)
		r.Get("/settings", h.Settings)
		r.Patch("/settings", h.UpdateSettings)
		r.Delete("/settings", h.ResetSettings)
		r.Post("/settings/sync", h.SyncSettings)
	})
}

// Preferences returns the cached preferences.
func (h *UserHandler) Preferences(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.users.Preferences())
}

// UpdatePreferences merges a patch into the preferences.
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.users.UpdatePreference(r.Context(), req); err != nil {
		h.fail(w, r, err, "Failed to update preferences")
		return
	}
	JSON(w, http.StatusOK, h.users.Preferences())
}

// SyncPreferences pulls the preferences stored by the external backend.
func (h *UserHandler) SyncPreferences(w http.ResponseWriter, r *http.Request) {
	h.users.LoadPreferencesFromBackend(r.Context())
	JSON(w, http.StatusOK, h.users.Preferences())
}

// Settings returns the cached settings.
func (h *UserHandler) Settings(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.users.Settings())
}

// UpdateSettings merges a patch into the settings.
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	if err := h.users.UpdateSettings(r.Context(), req); err != nil {
		h.fail(w, r, err, "Failed to update settings")
		return
	}
	JSON(w, http.StatusOK, h.users.Settings())
}

// ResetSettings clears the settings.
func (h *UserHandler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.users.ResetSettings(r.Context()); err != nil {
		h.fail(w, r, err, "Failed to reset settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncSettings pulls the settings stored by the external backend.
func (h *UserHandler) SyncSettings(w http.ResponseWriter, r *http.Request) {
	h.users.LoadSettingsFromBackend(r.Context())
	JSON(w, http.StatusOK, h.users.Settings())
}
