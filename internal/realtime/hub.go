// Package realtime pushes attendance activity to browsers over websockets and
// drives browser-side cameras for scan sessions.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8 << 10
)

// Frame types pushed to browsers.
const (
	FrameAttendanceMarked = "attendance:marked"
	FrameStatsUpdated     = "stats:updated"
	FrameScannerState     = "scanner:state"
	FrameScanResult       = "scan:result"
	FrameFlashState       = "flash:state"
	FrameCameras          = "cameras"
	FrameError            = "error"
	FrameConnected        = "connected"
)

// Frame is the envelope of every server-to-browser message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans frames out to every connected dashboard.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub; call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("dropping slow dashboard client")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Broadcast queues f for every dashboard. It never blocks the caller for
// longer than ctx allows.
func (h *Hub) Broadcast(ctx context.Context, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("marshal broadcast frame", "type", f.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-ctx.Done():
	case <-h.done:
	}
}

// ServeWS upgrades a dashboard connection and registers it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade", "error", err)
		return
	}
	client := newClient(conn, h.logger)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	// Written after registration and before the write pump starts, so a
	// client that has read it will see every later broadcast.
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(Frame{Type: FrameConnected})
	go client.writePump()
	client.readPump(func([]byte) {}, func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	})
}

// Client is one websocket connection with a buffered outbound queue.
type Client struct {
	conn   *ws.Conn
	send   chan []byte
	logger *slog.Logger
}

func newClient(conn *ws.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, send: make(chan []byte, 256), logger: logger}
}

// readPump hands every inbound message to onMessage until the peer goes away.
func (c *Client) readPump(onMessage func([]byte), onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseAbnormalClosure) {
				c.logger.Warn("websocket read", "error", err)
			}
			return
		}
		onMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(ws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
