// Package ws pushes job lifecycle events to dashboards over websockets.
package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cwygoda/skim/internal/domain"
)

// ErrSendBufferFull is returned by Conn.Send when the client is too slow.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnClosed is returned by Conn.Send after Close.
var ErrConnClosed = errors.New("connection closed")

// Conn is one live client connection. Send must not block.
type Conn interface {
	ID() string
	Send(ev domain.Event) error
	Close() error
}

// Hub tracks live connections and which user each one belongs to.
// The latest registration of a user wins.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	users  map[int64]Conn
	logger *slog.Logger
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		users:  make(map[int64]Conn),
		logger: logger,
	}
}

// Attach adds c to the broadcast set.
func (h *Hub) Attach(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Register binds userID to c, replacing any earlier connection of the user.
func (h *Hub) Register(userID int64, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	if old, ok := h.users[userID]; ok && old.ID() != c.ID() {
		h.logger.Debug("replacing client registration", "user_id", userID, "old", old.ID(), "new", c.ID())
	}
	h.users[userID] = c
}

// Unregister forgets c. Registrations that point at another connection are kept.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID())
	for userID, registered := range h.users {
		if registered.ID() == c.ID() {
			delete(h.users, userID)
		}
	}
}

// Online reports whether userID has a registered connection.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendToUser delivers ev to the user's connection. Unknown users are ignored.
func (h *Hub) SendToUser(userID int64, ev domain.Event) {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, ev)
}

// Broadcast delivers ev to every live connection.
func (h *Hub) Broadcast(ev domain.Event) {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c Conn, ev domain.Event) {
	if err := c.Send(ev); err != nil {
		h.logger.Warn("dropping event", "conn", c.ID(), "type", ev.Type, "error", err)
	}
}
