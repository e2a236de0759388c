package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatbridge/internal/auth"
	"github.com/ashureev/chatbridge/internal/backendsync"
	"github.com/ashureev/chatbridge/internal/chatstore"
	"github.com/ashureev/chatbridge/internal/config"
	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/domain"
	"github.com/ashureev/chatbridge/internal/restapi"
	"github.com/ashureev/chatbridge/internal/service"
)

type fakeAuth struct {
	user     *domain.UserProfile
	loginErr error
	loggedIn bool
}

func (f *fakeAuth) Login(_ context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.loggedIn = true
	return &auth.TokenResponse{AccessToken: "secret"}, nil
}

func (f *fakeAuth) Register(_ context.Context, req auth.RegisterRequest) (*domain.UserProfile, error) {
	if err := auth.ValidateRegistration(req); err != nil {
		return nil, err
	}
	return &domain.UserProfile{ID: 9, Name: req.Name, Email: req.Email}, nil
}

func (f *fakeAuth) CurrentUser(context.Context) (*domain.UserProfile, error) {
	if !f.loggedIn {
		return nil, nil
	}
	return f.user, nil
}

func (f *fakeAuth) CachedUser(context.Context) (*domain.UserProfile, error) {
	return f.user, nil
}

func (f *fakeAuth) Logout(context.Context) error {
	f.loggedIn = false
	return nil
}

type fakeChat struct {
	sessions []domain.Session
	removed  []string
}

func (f *fakeChat) Create(_ context.Context, config domain.AgentConfig, meta domain.SessionMeta, _ bool) (*domain.Session, error) {
	s := domain.Session{ID: "ssn_new", Type: domain.SessionTypeAgent, Config: config, Meta: meta}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeChat) Remove(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeChat) RemoveAll(context.Context) error {
	f.removed = append(f.removed, "*")
	return nil
}

func (f *fakeChat) Activate(id string) error {
	if id != "ssn_new" && id != domain.InboxSessionID {
		return chatstore.ErrNotFound
	}
	return nil
}

func (f *fakeChat) Refresh(context.Context) error { return nil }
func (f *fakeChat) List() []domain.Session        { return f.sessions }
func (f *fakeChat) Groups() []domain.SessionGroup { return nil }
func (f *fakeChat) ActiveID() string              { return domain.InboxSessionID }

type fakeMessages struct {
	gotSession string
	gotTopic   *string
}

func (f *fakeMessages) GetMessages(_ context.Context, sessionID string, topicID *string) ([]domain.Message, error) {
	f.gotSession, f.gotTopic = sessionID, topicID
	return nil, nil
}

type fakeSender struct {
	got service.SendMessageParams
	err error
}

func (f *fakeSender) SendMessage(_ context.Context, p service.SendMessageParams) (*service.SendMessageResult, error) {
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	return &service.SendMessageResult{SessionID: p.SessionID, UserMessageID: "u1", AssistantMessageID: "a1"}, nil
}

type fakeReconciler struct {
	mapping map[string]int64
}

func (f *fakeReconciler) BackfillFromRemote(context.Context) (backendsync.BackfillReport, error) {
	return backendsync.BackfillReport{Listed: 2, Created: 1, Skipped: 1}, nil
}

func (f *fakeReconciler) Snapshot() map[string]int64 { return f.mapping }
func (f *fakeReconciler) IsSynced() bool             { return true }

func (f *fakeReconciler) GetBackendAgentID(id string) (int64, bool) {
	v, ok := f.mapping[id]
	return v, ok
}

type fixture struct {
	router   chi.Router
	upstream *upstream
	auth     *fakeAuth
	chat     *fakeChat
	messages *fakeMessages
	sender   *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		auth:     &fakeAuth{user: &domain.UserProfile{ID: 1, Name: "Ada", Email: "ada@example.com"}},
		chat:     &fakeChat{},
		messages: &fakeMessages{},
		sender:   &fakeSender{},
		upstream: newUpstream(t, dispatch.ModeExternal),
	}
	rec := &fakeReconciler{mapping: map[string]int64{"ssn_new": 42}}

	base := NewHandler(&config.Config{CustomAuthEnabled: true, CustomAPIBaseURL: "https://api.example.com"}, nil)
	r := chi.NewRouter()
	NewHealthHandler(base, nil).RegisterRoutes(r)
	NewAuthHandler(base, f.auth).RegisterRoutes(r)
	NewSessionHandler(base, f.chat, service.NewSessionService(f.upstream.backends), f.messages, f.sender, rec).RegisterRoutes(r)
	NewBackendSyncHandler(base, rec).RegisterRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["backend"] != "external" || body["api_base_url_configured"] != true {
		t.Fatalf("unexpected config %v", body)
	}
}

func TestAuthRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if rec := f.do(http.MethodGet, "/api/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("token must not be returned, got %s", rec.Body.String())
	}

	if rec := f.do(http.MethodGet, "/api/auth/me", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ada") {
		t.Fatalf("expected profile, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(http.MethodPost, "/api/auth/logout", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestLoginFormError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.auth.loginErr = &auth.FormError{Status: 401, Message: "Incorrect email or password"}

	rec := f.do(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Incorrect email or password") {
		t.Fatalf("expected inline form error, got %s", rec.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"123","password_confirm":"123"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Password must be at least 6 characters") {
		t.Fatalf("expected password validation error, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPost, "/api/auth/register", `{"name":"Ada","email":"ada@example.com","password":"123456","password_confirm":"123456"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(http.MethodPost, "/api/auth/register", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestSessionRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/sessions", `{"config":{"model":"gpt-4o"},"meta":{"title":"Writer"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	var created map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created["id"] != "ssn_new" || created["agentId"] != float64(42) {
		t.Fatalf("expected session with agent id, got %v", created)
	}

	rec = f.do(http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"activeId":"inbox"`) {
		t.Fatalf("unexpected list response %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/sessions/ssn_new/messages?topic_id=tpc_1", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}
	if f.messages.gotSession != "ssn_new" || f.messages.gotTopic == nil || *f.messages.gotTopic != "tpc_1" {
		t.Fatalf("unexpected message query %s %v", f.messages.gotSession, f.messages.gotTopic)
	}

	if rec := f.do(http.MethodDelete, "/api/sessions/ssn_new", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(f.chat.removed) != 1 || f.chat.removed[0] != "ssn_new" {
		t.Fatalf("expected ssn_new removed, got %v", f.chat.removed)
	}
}

func TestChatRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/sessions/inbox/chat", `{"content":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/sessions/inbox/chat", `{"content":"hi","model":"gpt-4o","provider":"openai"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if f.sender.got.SessionID != "inbox" || f.sender.got.NewUserMessage.Content != "hi" || f.sender.got.NewAssistantMessage.Model != "gpt-4o" {
		t.Fatalf("unexpected params %+v", f.sender.got)
	}

	f.sender.err = errors.Join(errors.New("sendMessage"), restapi.ErrAuthenticationExpired)
	if rec := f.do(http.MethodPost, "/api/sessions/inbox/chat", `{"content":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBackendSyncRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/backend-sync/backfill", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"created":1`) {
		t.Fatalf("unexpected backfill response %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/backend-sync/agents", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ssn_new":42`) {
		t.Fatalf("unexpected agents response %d %s", rec.Code, rec.Body.String())
	}
}
