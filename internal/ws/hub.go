package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte // buffered outbound message queue
	address string      // lowercased participant address, "" = anonymous
}

// StateProvider builds the STATE_SYNC payload for a connecting client.
// Implemented in the service layer and injected after construction.
type StateProvider interface {
	StateSync(ctx context.Context, address string) (*StateSyncData, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients, a per-address index for targeted
// sends, and routes broadcast messages. Run() must be called in a dedicated
// goroutine before ServeWS is used.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	byAddress map[string]map[*Client]bool

	// channels consumed by Run()
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	state StateProvider

	// upgrader is safe for concurrent use after construction.
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run().
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byAddress:  make(map[string]map[*Client]bool),
		broadcast:  make(chan []byte, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// SetStateProvider injects the STATE_SYNC builder after the service layer is
// constructed.
func (h *Hub) SetStateProvider(p StateProvider) {
	h.state = p
}

// ──────────────────────────────────────────────────────────────────────────────
// Run — hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration, and broadcast events
// sequentially. Call it once as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.address != "" {
				set := h.byAddress[client.address]
				if set == nil {
					set = make(map[*Client]bool)
					h.byAddress[client.address] = set
				}
				set[client] = true
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.Broadcast(MsgConnectionCount, ConnectionCountData{Count: count})

		case client := <-h.unregister:
			if h.removeClient(client) {
				h.Broadcast(MsgConnectionCount, ConnectionCountData{Count: h.ConnectionCount()})
			}

		case message := <-h.broadcast:
			var stalled []*Client
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Full buffer means a consumer that stopped reading;
					// it gets dropped rather than stalling the hub.
					stalled = append(stalled, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range stalled {
				h.dropClient(client)
			}
		}
	}
}

// removeClient detaches a client from both maps and closes its send channel.
// Returns false when the client was already gone.
func (h *Hub) removeClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return false
	}
	delete(h.clients, client)
	if client.address != "" {
		if set := h.byAddress[client.address]; set != nil {
			delete(set, client)
			if len(set) == 0 {
				delete(h.byAddress, client.address)
			}
		}
	}
	close(client.send)
	return true
}

// dropClient force-disconnects a slow consumer.
func (h *Hub) dropClient(client *Client) {
	if h.removeClient(client) {
		_ = client.conn.Close()
		slog.Warn("ws client dropped on backpressure", "address", client.address)
	}
}

// ConnectionCount returns the current number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clear closes every socket and resets both maps. Used by admin reset.
func (h *Hub) Clear() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		_ = client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.byAddress = make(map[string]map[*Client]bool)
	h.mu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Sending
// ──────────────────────────────────────────────────────────────────────────────

// Broadcast serializes the message once and enqueues it to every client.
func (h *Hub) Broadcast(t MsgType, data any) {
	payload, err := json.Marshal(NewMessage(t, data))
	if err != nil {
		slog.Error("ws marshal failed", "type", t, "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		slog.Warn("ws broadcast queue full, message dropped", "type", t)
	}
}

// SendTo delivers a message to every socket registered under address.
// A no-op when the address has no connections.
func (h *Hub) SendTo(address string, t MsgType, data any) {
	payload, err := json.Marshal(NewMessage(t, data))
	if err != nil {
		slog.Error("ws marshal failed", "type", t, "error", err)
		return
	}

	var stalled []*Client
	h.mu.RLock()
	for client := range h.byAddress[strings.ToLower(address)] {
		select {
		case client.send <- payload:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()
	for _, client := range stalled {
		h.dropClient(client)
	}
}

// SendToClient enqueues a message for a single client (STATE_SYNC handshake).
func (h *Hub) SendToClient(client *Client, t MsgType, data any) {
	payload, err := json.Marshal(NewMessage(t, data))
	if err != nil {
		slog.Error("ws marshal failed", "type", t, "error", err)
		return
	}
	select {
	case client.send <- payload:
	default:
		h.dropClient(client)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWS — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWS upgrades an HTTP request to a WebSocket connection, registers the
// client under the optional ?address= query parameter, pushes the STATE_SYNC
// snapshot, and starts the read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		address: strings.ToLower(r.URL.Query().Get("address")),
	}
	h.register <- client

	if h.state != nil {
		if snapshot, err := h.state.StateSync(r.Context(), client.address); err == nil {
			h.SendToClient(client, MsgStateSync, snapshot)
		} else {
			slog.Error("ws state sync failed", "address", client.address, "error", err)
		}
	}

	go client.writePump()
	go client.readPump()
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection. It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the WebSocket connection. Only pong messages
// are handled (they reset the read deadline); inbound data frames are
// discarded because the protocol is server-push only. When the connection
// drops the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
