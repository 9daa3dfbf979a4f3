// Package notify broadcasts lock and supply change events to
// collaborators (e.g. a rewards controller) over WebSocket. Delivery
// is fire-and-forget: a slow client's queue overflows and drops,
// and consumers deduplicate by event id.
package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"veledger/internal/domain"
	"veledger/internal/observability"
)

// HubConfig configures broadcast behavior.
type HubConfig struct {
	// ClientQueueSize is the per-client outbound event buffer.
	ClientQueueSize int
	// WriteTimeout is the timeout for writing one message.
	WriteTimeout time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
}

// DefaultHubConfig returns default broadcast configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ClientQueueSize: 256,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
	}
}

// Hub fans change events out to connected WebSocket clients. It
// implements the engine's Notifier; Publish never blocks the caller.
type Hub struct {
	config   HubConfig
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan domain.LockEvent
	done chan struct{}
}

// NewHub creates a hub. A nil logger discards output.
func NewHub(config HubConfig, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify] ", log.LstdFlags)
	}
	return &Hub{
		config:  config,
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is consumed by internal collaborators.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish enqueues an event for every connected client. Events that
// do not fit a client's queue are dropped for that client.
func (h *Hub) Publish(ev domain.LockEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			observability.RecordNotificationDropped()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket subscription and
// streams events until the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan domain.LockEvent, h.config.ClientQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetNotificationClients(n)

	go h.readLoop(c)
	h.writeLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	n = len(h.clients)
	h.mu.Unlock()
	observability.SetNotificationClients(n)
	conn.Close()
}

// readLoop drains inbound frames so pings and close frames are
// processed; the feed carries no client-to-server messages.
func (h *Hub) readLoop(c *client) {
	defer close(c.done)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close disconnects all clients and rejects new subscriptions.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	observability.SetNotificationClients(0)
	return nil
}
