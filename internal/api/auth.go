package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/auth"
	"github.com/ashureev/chatbridge/internal/domain"
)

// AuthService is the credential lifecycle used by the auth routes.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*domain.UserProfile, error)
	CurrentUser(ctx context.Context) (*domain.UserProfile, error)
	CachedUser(ctx context.Context) (*domain.UserProfile, error)
	Logout(ctx context.Context) error
}

// AuthHandler handles login, registration and profile endpoints.
type AuthHandler struct {
	*Handler
	auth AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler, svc AuthService) *AuthHandler {
	return &AuthHandler{Handler: base, auth: svc}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// Login stores a token for the posted credentials. The token itself stays
// on the server.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	if _, err := h.auth.Login(r.Context(), req); err != nil {
		h.fail(w, r, err, "Login failed")
		return
	}

	user, err := h.auth.CachedUser(r.Context())
	if err != nil {
		h.logger.Warn("Failed to read cached user after login", "error", err)
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"signedIn": true,
		"user":     user,
	})
}

// Register creates an account without signing in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "Registration failed")
		return
	}
	JSON(w, http.StatusCreated, user)
}

// Logout clears the stored credential.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.fail(w, r, err, "Logout failed")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"signedIn": false})
}

// Me returns the refreshed profile of the signed-in user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	JSON(w, http.StatusOK, user)
}
