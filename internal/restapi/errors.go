package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

const defaultFailureMessage = "Request failed"

var (
	// ErrNotConfigured means no base URL is available at call time.
	ErrNotConfigured = errors.New("custom API base URL is not configured")

	// ErrNotAuthenticated means no token was stored; nothing was sent.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthenticationExpired means the backend answered 401. The stored
	// credential has already been cleared.
	ErrAuthenticationExpired = errors.New("authentication failed, please login again")

	// ErrCanceled means the caller canceled the request. It also matches
	// context.Canceled.
	ErrCanceled = errors.New("request canceled")

	// ErrTransport wraps network-level failures.
	ErrTransport = errors.New("transport error")
)

// RequestFailedError is returned for any non-2xx status other than 401.
type RequestFailedError struct {
	Status  int
	Message string
	// Body is the raw error body, kept so callers can apply their own
	// fallback message.
	Body []byte
}

// MessageOr re-derives the message with a caller-specific fallback.
func (e *RequestFailedError) MessageOr(fallback string) string {
	return ErrorMessage(e.Body, fallback)
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Retryable reports whether repeating the request might succeed.
func (e *RequestFailedError) Retryable() bool {
	switch {
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err may be retried by a surrounding retry
// layer. Authentication failures and cancellations never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrAuthenticationExpired),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrCanceled),
		errors.Is(err, context.Canceled):
		return false
	}

	var reqErr *RequestFailedError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorMessage extracts a human-readable message from an error body:
// the first validation entry, then "message", then a string "detail",
// then fallback.
func ErrorMessage(body []byte, fallback string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return fallback
	}
	doc := gjson.ParseBytes(body)

	if msg := doc.Get("detail.0.msg"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	if msg := doc.Get("message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	if msg := doc.Get("detail"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	return fallback
}
