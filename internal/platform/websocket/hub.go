// Package websocket provides the real-time push channel for reminders.
// Clients connect on /ws, are registered under their authenticated user id,
// and receive every event sent to that user on any of their open sessions.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is the JSON frame delivered to a connected client.
type Event struct {
	Type      string          `json:"type"`
	UserID    int64           `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Conn is the part of *gorillawebsocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*gorillawebsocket.Conn)(nil)

// Client is a single WebSocket session of one user.
type Client struct {
	ID     string
	UserID int64
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hub tracks open sessions per user. All operations are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates a Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Register adds a session for client.UserID.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
}

// Unregister removes a session and closes its Send channel. Calling it twice
// for the same client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := sessions[client]; !ok {
		return
	}
	delete(sessions, client)
	if len(sessions) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.Send)
}

// SendToUser marshals payload into an Event and queues it on every session
// of userID. Delivery is fire-and-forget: a user with no sessions, or a
// session whose buffer is full, is not an error. Only an encoding failure
// or a done ctx is reported.
func (h *Hub) SendToUser(ctx context.Context, userID int64, eventType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.Send <- frame:
		default:
			h.logger.Warn().Int64("user_id", userID).Str("client_id", client.ID).Msg("client buffer full, dropping event")
		}
	}
	return nil
}

// ClientCount returns the total number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.clients {
		n += len(sessions)
	}
	return n
}

// UserSessionCount returns the number of open sessions of userID.
func (h *Hub) UserSessionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ---------------------------------------------------------------------------
// Handler: Echo endpoint for WebSocket connections
// ---------------------------------------------------------------------------

// Handler upgrades authenticated HTTP requests and pumps frames to the client.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates a handler bound to hub. allowedOrigins restricts the
// Origin header; an empty list or "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterRoutes mounts GET /ws behind the given auth middleware.
func (h *Handler) RegisterRoutes(g *echo.Group, authMW echo.MiddlewareFunc) {
	g.GET("/ws", h.HandleConnect, authMW)
}

// HandleConnect upgrades the connection and registers the client under the
// authenticated user.
func (h *Handler) HandleConnect(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		hub:    h.hub,
		conn:   ws,
	}
	h.hub.Register(client)
	h.hub.logger.Debug().Int64("user_id", userID).Str("client_id", client.ID).Msg("client connected")

	go client.writePump(pingPeriod)
	go client.readPump()

	return nil
}

// readPump drains inbound frames so control messages are processed, and
// unregisters the client when the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.hub.logger.Debug().Int64("user_id", c.UserID).Str("client_id", c.ID).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued frames and pings every interval. It sends a close
// frame and returns once Send is closed.
func (c *Client) writePump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
