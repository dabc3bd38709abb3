package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/internal/logging"
	"github.com/FocuswithJustin/carry/internal/server"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256

	// Per-connection message budget: messagesPerSecond sustained, twice that in a burst.
	messagesPerSecond = 10
)

// EventType is the "type" field of every WebSocket message.
type EventType string

// Message types.
const (
	EventPlanCreated EventType = "plan_created"
	EventPlanUpdated EventType = "plan_updated"
	EventPlanDeleted EventType = "plan_deleted"
	EventValidate    EventType = "validate"
	EventValidation  EventType = "validation"
	EventError       EventType = "error"
)

// PlanEventMessage is broadcast to every client when a plan changes.
type PlanEventMessage struct {
	Type      EventType `json:"type"`
	OrgID     string    `json:"orgId"`
	PlanID    string    `json:"planId"`
	Version   int       `json:"version,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// ClientMessage is a message sent by a client.
type ClientMessage struct {
	Type    EventType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Passage string    `json:"passage"`
}

// ValidationMessage answers a validate request on the same connection.
type ValidationMessage struct {
	Type    EventType        `json:"type"`
	ID      string           `json:"id,omitempty"`
	Valid   bool             `json:"valid"`
	Passage *ResolvedPassage `json:"passage,omitempty"`
	Error   *APIError        `json:"error,omitempty"`
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	resolver *passage.Resolver
	limiter  *tokenBucket

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues data for the write pump without blocking. It reports false
// when the queue is full or the client is closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the send queue once; the write pump then closes the socket.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains active WebSocket connections and broadcasts messages.
// A single goroutine (Run) owns the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	count      atomic.Int64
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run handles registration and broadcasting until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			logging.WebSocketEvent("client_connected", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				client.close()
			}
			h.count.Store(int64(len(h.clients)))
			logging.WebSocketEvent("client_disconnected", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.enqueue(message) {
					// Slow consumer.
					delete(h.clients, client)
					client.close()
				}
			}
			h.count.Store(int64(len(h.clients)))

		case <-h.done:
			for client := range h.clients {
				client.close()
			}
			h.clients = map[*Client]bool{}
			h.count.Store(0)
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast sends v as JSON to all connected clients. Messages are dropped
// when the hub is backed up.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("failed to marshal broadcast message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		logging.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastPlan announces a plan mutation.
func (h *Hub) BroadcastPlan(event EventType, orgID, planID string, version int) {
	h.Broadcast(PlanEventMessage{
		Type:      event,
		OrgID:     orgID,
		PlanID:    planID,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump reads client messages until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("websocket unexpected close", "error", err)
			}
			return
		}
		c.reply(c.handleMessage(data))
	}
}

// handleMessage answers one client message.
func (c *Client) handleMessage(data []byte) ValidationMessage {
	if !c.limiter.allow() {
		return ValidationMessage{Type: EventError, Error: &APIError{
			Code: "RATE_LIMIT_EXCEEDED", Message: "Too many messages",
		}}
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ValidationMessage{Type: EventError, Error: &APIError{
			Code: "INVALID_JSON", Message: "Message is not valid JSON",
		}}
	}
	if msg.Type != EventValidate {
		return ValidationMessage{Type: EventError, ID: msg.ID, Error: &APIError{
			Code: "UNKNOWN_TYPE", Message: "Unknown message type: " + string(msg.Type),
		}}
	}

	v, err := c.resolver.Resolve(msg.Passage)
	if err != nil {
		_, code, message := errorStatus(err)
		return ValidationMessage{Type: EventValidation, ID: msg.ID, Error: &APIError{
			Code: code, Message: message,
		}}
	}
	resolved := toResolved(v)
	return ValidationMessage{Type: EventValidation, ID: msg.ID, Valid: true, Passage: &resolved}
}

func (c *Client) reply(msg ValidationMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("failed to marshal websocket reply", "error", err)
		return
	}
	if !c.enqueue(data) {
		logging.Warn("websocket reply dropped", "type", msg.Type)
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// newUpgrader returns an upgrader that enforces allowedOrigins.
// An empty list accepts every origin, matching the CORS policy.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if server.IsOriginAllowed(origin, allowedOrigins) {
				return true
			}
			logging.SecurityEvent("origin_rejected", "websocket", "origin", origin)
			return false
		},
	}
}

// handleWebSocket upgrades the connection and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      s.hub,
		conn:     conn,
		resolver: s.resolver,
		limiter:  newTokenBucket(2*messagesPerSecond, messagesPerSecond),
		send:     make(chan []byte, sendBuffer),
	}
	if !s.hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
