// Package auth implements login, registration and profile refresh against
// the external backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/restapi"
	"github.com/ashureev/chatbridge/internal/store"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError is a form-level error tied to one input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// FormError is a backend rejection of a login or registration form. Its
// message is meant to be shown inline.
type FormError struct {
	Status  int
	Message string
}

func (e *FormError) Error() string {
	return e.Message
}

// LoginRequest is the login form.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// API is the subset of restapi.Client used here.
type API interface {
	Do(ctx context.Context, method, endpoint string, body, out any, opts ...restapi.RequestOption) error
	DoPublic(ctx context.Context, method, endpoint string, body, out any, opts ...restapi.RequestOption) error
}

// Service manages the credential lifecycle.
type Service struct {
	api    API
	tokens store.TokenStore
	logger *slog.Logger
}

// NewService creates an auth service.
func NewService(api API, tokens store.TokenStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, tokens: tokens, logger: logger}
}

// Login exchanges credentials for a bearer token and stores it. The
// profile is fetched afterwards on a best-effort basis.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, &ValidationError{Field: "email", Message: "Please enter your email"}
	}
	if req.Password == "" {
		return nil, &ValidationError{Field: "password", Message: "Please enter your password"}
	}

	var resp TokenResponse
	if err := s.api.DoPublic(ctx, http.MethodPost, "auth/login", req, &resp); err != nil {
		return nil, formError(err, "Login failed")
	}
	if resp.AccessToken == "" {
		return nil, &FormError{Status: http.StatusOK, Message: "Login failed"}
	}

	if err := s.tokens.SetToken(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	if _, err := s.CurrentUser(ctx); err != nil {
		s.logger.Warn("Failed to fetch user info after login", "error", err)
	}

	s.logger.Info("User logged in", "email", req.Email)
	return &resp, nil
}

// ValidateRegistration applies the registration form rules.
func ValidateRegistration(req RegisterRequest) error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return &ValidationError{Field: "name", Message: "Please enter your name"}
	case strings.TrimSpace(req.Email) == "":
		return &ValidationError{Field: "email", Message: "Please enter your email"}
	case !emailPattern.MatchString(req.Email):
		return &ValidationError{Field: "email", Message: "Please enter a valid email"}
	case req.Password == "":
		return &ValidationError{Field: "password", Message: "Please enter your password"}
	case len(req.Password) < minPasswordLength:
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters"}
	case req.PasswordConfirm == "":
		return &ValidationError{Field: "password_confirm", Message: "Please confirm your password"}
	case req.PasswordConfirm != req.Password:
		return &ValidationError{Field: "password_confirm", Message: "Passwords do not match"}
	}
	return nil
}

// Register creates an account. It does not log the user in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.UserProfile, error) {
	if err := ValidateRegistration(req); err != nil {
		return nil, err
	}

	var user domain.UserProfile
	if err := s.api.DoPublic(ctx, http.MethodPost, "auth/register", req, &user); err != nil {
		return nil, formError(err, "Registration failed")
	}

	s.logger.Info("User registered", "user_id", user.ID)
	return &user, nil
}

// CurrentUser fetches the profile and refreshes the cached copy. It
// returns nil without error when no token is stored or the token was
// rejected; in the latter case the credential has already been cleared.
func (s *Service) CurrentUser(ctx context.Context) (*domain.UserProfile, error) {
	if !s.tokens.IsAuthenticated(ctx) {
		return nil, nil
	}

	var user domain.UserProfile
	err := s.api.Do(ctx, http.MethodGet, "auth/me", nil, &user)
	switch {
	case err == nil:
	case errors.Is(err, restapi.ErrAuthenticationExpired), errors.Is(err, restapi.ErrNotAuthenticated):
		return nil, nil
	default:
		return nil, fmt.Errorf("get current user: %w", err)
	}

	if err := s.tokens.SetUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("cache user: %w", err)
	}
	return &user, nil
}

// CachedUser returns the stored profile without network I/O.
func (s *Service) CachedUser(ctx context.Context) (*domain.UserProfile, error) {
	return s.tokens.GetUser(ctx)
}

// Logout removes the token and the cached profile.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.logger.Info("User logged out")
	return nil
}

// IsAuthenticated reports whether a token is stored.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.tokens.IsAuthenticated(ctx)
}

// formError turns a backend rejection into an inline form message.
// Transport and configuration errors pass through unchanged.
func formError(err error, fallback string) error {
	var reqErr *restapi.RequestFailedError
	if errors.As(err, &reqErr) {
		return &FormError{Status: reqErr.Status, Message: reqErr.MessageOr(fallback)}
	}
	return err
}
