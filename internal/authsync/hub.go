package authsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatbridge/internal/identity"
	"github.com/ashureev/chatbridge/internal/notify"
)

const (
	clientQueue  = 16
	writeTimeout = 5 * time.Second
)

// Event is one message pushed to a UI tab.
type Event struct {
	Type         string               `json:"type"`
	State        *State               `json:"state,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes auth state and notifications to every connected tab. Each
// tab holds at most one connection; a reconnect replaces the old one.
type Hub struct {
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	last    *State
}

// NewHub creates a hub.
func NewHub(allowedOrigin string, isDev bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
		clients:       make(map[string]*client),
	}
}

// PublishState sends the state to every tab and remembers it for tabs that
// connect later.
func (h *Hub) PublishState(s State) {
	h.mu.Lock()
	h.last = &s
	h.mu.Unlock()
	h.broadcast(Event{Type: "auth_state", State: &s})
}

// Notify implements notify.Sink.
func (h *Hub) Notify(n notify.Notification) {
	h.broadcast(Event{Type: "notification", Notification: &n})
}

// Count returns the number of connected tabs.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode hub event", "error", err, "type", ev.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for tabID, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping event for slow tab", "tab_id", tabID, "type", ev.Type)
		}
	}
}

// register makes c the connection of tabID and returns the connection it
// replaced, if any. The caller closes it outside the lock.
func (h *Hub) register(tabID string, c *client) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.clients[tabID]
	h.clients[tabID] = c
	if !ok || existing == c {
		return nil
	}
	return existing
}

func (h *Hub) unregister(tabID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[tabID]; ok && current == c {
		delete(h.clients, tabID)
	}
}

// ServeHTTP upgrades the request and streams events until the tab
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tabID := identity.TabIDFromRequest(r)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "tab_id", tabID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "tab closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "tab_id", tabID)
		}
	}()

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last != nil {
		if data, err := json.Marshal(Event{Type: "auth_state", State: last}); err == nil {
			c.send <- data
		}
	}

	if replaced := h.register(tabID, c); replaced != nil {
		// Close waits for the peer's close frame.
		go func() {
			if err := replaced.conn.Close(websocket.StatusNormalClosure, "connection replaced"); err != nil {
				h.logger.Debug("Failed to close replaced websocket", "error", err, "tab_id", tabID)
			}
		}()
	}
	defer h.unregister(tabID, c)
	h.logger.Info("Auth tab connected", "tab_id", tabID, "ip", identity.IPFromRequest(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, c, tabID)
	}()

	h.readLoop(ctx, c, tabID)
	cancel()
	wg.Wait()
	h.logger.Info("Auth tab disconnected", "tab_id", tabID)
}

func (h *Hub) readLoop(ctx context.Context, c *client, tabID string) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by client", "tab_id", tabID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "tab_id", tabID)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case c.send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client, tabID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write error", "error", err, "tab_id", tabID)
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
