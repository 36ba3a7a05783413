package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sightlinehq/sightline/internal/protocol"
)

const (
	// writeWait is the deadline for a single write.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames.
	maxMessageSize = 1 << 20
	// sendBufferSize is the per-client send queue. Slow clients that fall
	// this far behind start losing frames rather than stalling everyone.
	sendBufferSize = 256
)

// CommandHandler receives decoded frontend commands. clientID identifies
// the sending connection for targeted replies via SendTo.
type CommandHandler interface {
	HandleCommand(clientID string, cmd protocol.OutboundCommand)
	ClientDisconnected(clientID string)
}

// Hub tracks connected WebSocket clients and fans events out to them.
// It is safe for concurrent use.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
	handler CommandHandler
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The server binds to loopback; same-host pages are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// SetHandler installs the command handler. Must be called before ServeWS.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(ev protocol.Event) {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		h.logger.Error("marshal broadcast event", "kind", ev.Kind(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.sendRaw(data)
	}
}

// SendTo sends an event to one client. Unknown IDs are ignored.
func (h *Hub) SendTo(clientID string, ev protocol.Event) {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		h.logger.Error("marshal event", "kind", ev.Kind(), "error", err)
		return
	}

	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c != nil {
		c.sendRaw(data)
	}
}

// ServeWS upgrades an HTTP request and runs the client until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	handler := h.handler
	h.mu.Unlock()

	h.logger.Info("client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(handler)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.done)

	if handler != nil {
		handler.ClientDisconnected(c.id)
	}
	h.logger.Info("client disconnected", "client_id", c.id)
}

// CloseAll disconnects every client. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// wsClient is one connected frontend.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// sendRaw queues bytes for delivery, dropping when the client is too far
// behind.
func (c *wsClient) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("send buffer full, dropping message", "client_id", c.id)
	}
}

// readPump decodes inbound frames and forwards them to the handler.
// Runs on the ServeWS goroutine; returns when the connection drops.
func (c *wsClient) readPump(handler CommandHandler) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			c.hub.logger.Warn("invalid command", "client_id", c.id, "error", err)
			c.sendEvent(protocol.NewError("invalid command"))
			continue
		}
		if handler != nil {
			handler.HandleCommand(c.id, cmd)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) sendEvent(ev protocol.Event) {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		return
	}
	c.sendRaw(data)
}
