// Package ws pushes bus events to connected UI clients over WebSocket and
// forwards client drops back onto the bus.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Message is the wire frame in both directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Bus is the part of the event bus the hub needs.
type Bus interface {
	SubscribeAll(h events.Handler) (unsubscribe func())
	Publish(name string, payload any)
}

// Hub tracks connected clients.
type Hub struct {
	bus      Bus
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. An empty allowedOrigins accepts any origin.
func NewHub(bus Bus, allowedOrigins []string, log zerolog.Logger) *Hub {
	h := &Hub{
		bus:     bus,
		log:     log.With().Str("component", "ws").Logger(),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Start forwards every bus event to the connected clients until the
// returned stop function is called. stop also disconnects all clients.
func (h *Hub) Start() (stop func()) {
	unsubscribe := h.bus.SubscribeAll(h.Broadcast)
	return func() {
		unsubscribe()
		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.clients {
			c.close()
			delete(h.clients, c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends one event to every client. A client whose buffer is full is
// disconnected.
func (h *Hub) Broadcast(name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("Failed to encode event")
		return
	}
	frame, err := json.Marshal(Message{Event: name, Payload: raw})
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("Failed to encode frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.log.Warn().Str("client_id", c.id).Msg("Dropping slow WebSocket client")
			c.close()
			delete(h.clients, c)
		}
	}
}

// ServeHTTP upgrades the request and serves one client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info().Str("client_id", c.id).Str("remote_addr", r.RemoteAddr).Msg("WebSocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.close()
		delete(h.clients, c)
	}
}

// readPump handles client frames until the connection breaks.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.log.Info().Str("client_id", c.id).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("client_id", c.id).Msg("Unexpected WebSocket close")
			}
			return
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *client, msg Message) {
	switch msg.Event {
	case events.FilesDropped:
		var p events.FilesDroppedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.log.Warn().Err(err).Str("client_id", c.id).Msg("Invalid files-dropped payload")
			return
		}
		h.bus.Publish(events.FilesDropped, p)
	default:
		h.log.Debug().Str("client_id", c.id).Str("event", msg.Event).Msg("Ignoring client event")
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}
