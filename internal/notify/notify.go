// Package notify delivers user-facing notifications about failed backend
// calls. Login-required notifications are debounced so a burst of 401s
// produces a single prompt.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultDebounce is the minimum gap between two login-required notifications.
const DefaultDebounce = 5 * time.Second

// Kind identifies a notification type.
type Kind string

const (
	KindLoginRequired Kind = "login_required"
	KindFetchError    Kind = "fetch_error"
)

// Notification is delivered to every registered sink.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message,omitempty"`
	Status  int       `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives notifications. Implementations must not block.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notification)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notification) { f(n) }

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock overrides the time source used for debouncing.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithSink registers a sink at construction.
func WithSink(s Sink) Option {
	return func(n *Notifier) { n.sinks = append(n.sinks, s) }
}

// Notifier fans notifications out to sinks.
type Notifier struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

// New creates a Notifier. A debounce of zero disables debouncing.
func New(debounce time.Duration, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if debounce > 0 {
		limit = rate.Every(debounce)
	}

	n := &Notifier{
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AddSink registers a sink.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// LoginRequired tells the user to sign in again. It reports whether the
// notification was delivered or suppressed by the debounce window.
func (n *Notifier) LoginRequired() bool {
	now := n.now()
	if !n.limiter.AllowN(now, 1) {
		n.logger.Debug("Login required notification suppressed")
		return false
	}

	n.logger.Warn("Authentication expired, login required")
	n.publish(Notification{Kind: KindLoginRequired, At: now})
	return true
}

// FetchError reports a failed backend call.
func (n *Notifier) FetchError(message string, status int) {
	n.logger.Warn("Backend request failed", "status", status, "error", message)
	n.publish(Notification{Kind: KindFetchError, Message: message, Status: status, At: n.now()})
}

func (n *Notifier) publish(note Notification) {
	n.mu.RLock()
	sinks := make([]Sink, len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.RUnlock()

	for _, s := range sinks {
		s.Notify(note)
	}
}
