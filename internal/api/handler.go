// Package api provides HTTP handlers for the chatbridge API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/chatbridge/internal/auth"
	"github.com/ashureev/chatbridge/internal/chatstore"
	"github.com/ashureev/chatbridge/internal/config"
	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/identity"
	"github.com/ashureev/chatbridge/internal/restapi"
	"github.com/ashureev/chatbridge/internal/rpc"
	"github.com/ashureev/chatbridge/internal/service"
)

// statusClientClosedRequest is reported when the caller went away.
const statusClientClosedRequest = 499

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// optionalQuery returns a query parameter, or nil when it is empty.
func optionalQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

// intQuery parses an optional integer query parameter. It writes a 400 and
// reports false when the value is malformed.
func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		Error(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}

func dateRange(r *http.Request) service.DateRange {
	q := r.URL.Query()
	return service.DateRange{StartDate: q.Get("start_date"), EndDate: q.Get("end_date")}
}

// fail maps a domain error to a response. fallback is shown when err
// carries no user-facing message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		validation *auth.ValidationError
		form       *auth.FormError
		reqErr     *restapi.RequestFailedError
		rpcErr     *rpc.Error
	)

	switch {
	case errors.Is(err, restapi.ErrCanceled), errors.Is(err, context.Canceled):
		h.logger.Debug("Request canceled", "path", r.URL.Path)
		w.WriteHeader(statusClientClosedRequest)
	case errors.As(err, &validation):
		JSON(w, http.StatusBadRequest, map[string]string{"error": validation.Message, "field": validation.Field})
	case errors.As(err, &form):
		status := http.StatusBadRequest
		if form.Status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		Error(w, status, form.Message)
	case errors.Is(err, restapi.ErrNotAuthenticated), errors.Is(err, restapi.ErrAuthenticationExpired), rpc.IsUnauthenticated(err):
		Error(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, restapi.ErrNotConfigured):
		Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrUnsupported):
		Error(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, chatstore.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.As(err, &reqErr):
		Error(w, http.StatusBadGateway, reqErr.MessageOr(fallback))
	case errors.As(err, &rpcErr):
		Error(w, http.StatusBadGateway, rpcErr.Message)
	case errors.Is(err, service.ErrInvalidChatResponse), errors.Is(err, restapi.ErrTransport):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "tab_id", identity.TabIDFromContext(r.Context()), "error", err)
		Error(w, http.StatusInternalServerError, fallback)
	}
}
