// Package realtime maintains live websocket connections per user and pushes
// structured messages to them. Delivery is best-effort: a slow client's
// buffer overflowing drops the message for that connection only.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks live connections keyed by user
type Hub struct {
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[int64]map[*client]bool
}

// NewHub creates a connection hub
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[int64]map[*client]bool),
	}
}

// Run starts the hub loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Connection hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]bool)
			}
			h.clients[c.userID][c] = true
			h.mu.Unlock()
			log.Printf("🔌 User %d connected (%d connections)", c.userID, h.connectionCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[c.userID]; ok && conns[c] {
				delete(conns, c)
				close(c.send)
				if len(conns) == 0 {
					delete(h.clients, c.userID)
				}
			}
			h.mu.Unlock()
			log.Printf("🔌 User %d disconnected (%d connections)", c.userID, h.connectionCount())
		}
	}
}

// SendToUser pushes a structured message to all of the user's live
// connections. Returns the number of connections the message was queued to.
func (h *Hub) SendToUser(userID int64, event string, payload interface{}) int {
	data := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("⚠️  Error marshalling hub message: %v", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	queued := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- jsonBytes:
			queued++
		default:
			// Skip if client buffer is full to prevent blocking
		}
	}
	return queued
}

// ServeHTTP upgrades the request to a websocket connection. The user is
// identified by the user_id query parameter; authentication happens in the
// request layer before this handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  Websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
	}
	h.register <- c

	go c.writeLoop()
	go c.readLoop(h)
}

func (h *Hub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readLoop drains and discards client messages so pings and close frames
// are processed
func (c *client) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 16)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
