package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwygoda/skim/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// HandlerOptions configure the websocket endpoint.
type HandlerOptions struct {
	// Status builds the status_update sent right after connecting.
	Status func() domain.Event
	// Verifier checks register tokens. Without one tokens are ignored.
	Verifier TokenVerifier
	// RequireToken rejects registrations without a valid token.
	RequireToken bool
	Logger       *slog.Logger
}

// Handler upgrades HTTP requests to live channel connections.
type Handler struct {
	hub      *Hub
	opts     HandlerOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the GET /ws handler.
func NewHandler(hub *Hub, opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The extension connects from arbitrary page origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	h.hub.Attach(c)
	h.logger.Debug("client connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	if h.opts.Status != nil {
		_ = c.Send(h.opts.Status())
	}
	h.readPump(c)
}

// registerMessage is the only message clients send.
type registerMessage struct {
	Type   string `json:"type"`
	UserID userID `json:"userId"`
	Token  string `json:"token"`
}

// userID accepts both 42 and "42".
type userID int64

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", b)
	}
	*u = userID(n)
	return nil
}

func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.Unregister(c)
		c.Close()
		h.logger.Debug("client disconnected", "conn", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}

		var msg registerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("invalid websocket message", "conn", c.id, "error", err)
			continue
		}
		if msg.Type != "register" {
			continue
		}

		id, err := h.resolveUser(msg)
		if err != nil {
			h.logger.Warn("registration rejected", "conn", c.id, "error", err)
			continue
		}
		h.hub.Register(id, c)
		h.logger.Info("client registered", "conn", c.id, "user_id", id)
	}
}

func (h *Handler) resolveUser(msg registerMessage) (int64, error) {
	if msg.Token != "" && h.opts.Verifier != nil {
		id, err := h.opts.Verifier.Verify(msg.Token)
		if err == nil {
			return id, nil
		}
		if h.opts.RequireToken {
			return 0, err
		}
	}
	if h.opts.RequireToken {
		return 0, fmt.Errorf("%w: token required", domain.ErrUnauthorized)
	}
	if msg.UserID <= 0 {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return int64(msg.UserID), nil
}

// client is a Conn backed by a websocket with a buffered write pump.
type client struct {
	id   string
	conn *websocket.Conn
	send chan domain.Event

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(ev domain.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
