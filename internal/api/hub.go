package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second // keepalive under the 30s contract
	maxMessageSize = 512
)

// StreamMessage is the wire envelope for every stream frame. The first
// frame on a new connection is always a snapshot; deltas follow.
type StreamMessage struct {
	Type      string          `json:"type"` // "snapshot" or "delta"
	Stream    string          `json:"stream"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// SnapshotFunc produces the full current state for clients connecting
// mid-cycle.
type SnapshotFunc func() interface{}

// Hub fans stream frames out to connected websocket clients.
type Hub struct {
	stream     string
	snapshot   SnapshotFunc
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub for one stream.
func NewHub(stream string, snapshot SnapshotFunc) *Hub {
	return &Hub{
		stream:     stream,
		snapshot:   snapshot,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("stream", h.stream).Int("total_clients", total).Msg("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("stream", h.stream).Int("total_clients", total).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a delta frame to every client.
func (h *Hub) Broadcast(data interface{}) error {
	frame, err := encodeFrame("delta", h.stream, data)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
	default:
		log.Warn().Str("stream", h.stream).Msg("Broadcast buffer full, frame dropped")
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeFrame(kind, stream string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(StreamMessage{
		Type:      kind,
		Stream:    stream,
		Timestamp: time.Now().UTC(),
		Data:      body,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS upgrades the request and attaches the client to the hub. The
// snapshot frame is queued before the client is registered for deltas, so
// the client always sees snapshot-then-deltas.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("stream", h.stream).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 64)}

	if h.snapshot != nil {
		if frame, err := encodeFrame("snapshot", h.stream, h.snapshot()); err == nil {
			c.send <- frame
		}
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
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

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
