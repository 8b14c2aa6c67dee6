package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zde37/vdht/internal/chord"
	"github.com/zde37/vdht/pkg"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Size of the send buffer per client
	sendBufferSize = 256

	// Size of the queue between broadcasters and the hub
	broadcastBufferSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one connected WebSocket watcher.
type client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub fans finger events out to every connected client. It
// implements chord.Broadcaster.
type WebSocketHub struct {
	// owned by the run goroutine
	clients map[*client]struct{}

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	connected atomic.Int32
	dropped   atomic.Int64

	logger *pkg.Logger
}

var _ chord.Broadcaster = (*WebSocketHub)(nil)

// NewWebSocketHub creates a hub. Call Start before serving connections.
func NewWebSocketHub(logger *pkg.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("websocket"),
	}
}

// Start runs the hub loop in the background.
func (h *WebSocketHub) Start() {
	h.wg.Add(1)
	go h.run()
}

func (h *WebSocketHub) run() {
	defer h.wg.Done()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Store(int32(len(h.clients)))
			wsClients.Set(float64(len(h.clients)))
			h.logger.Info().Int("total_clients", len(h.clients)).Msg("Client connected")

		case c := <-h.unregister:
			h.remove(c)

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn().Msg("Client send buffer full, disconnecting slow client")
					h.remove(c)
				}
			}

		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.connected.Store(0)
			wsClients.Set(0)
			h.logger.Info().Msg("WebSocket hub stopped")
			return
		}
	}
}

func (h *WebSocketHub) remove(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.connected.Store(int32(len(h.clients)))
	wsClients.Set(float64(len(h.clients)))
	h.logger.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
}

// Stop disconnects every client and waits for the hub loop to exit.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	return int(h.connected.Load())
}

// Dropped returns how many events were discarded because the hub queue was full.
func (h *WebSocketHub) Dropped() int64 {
	return h.dropped.Load()
}

// readPump only serves keep-alives; clients have nothing to say.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error().Err(err).Msg("WebSocket unexpected close error")
			}
			return
		}
	}
}

// writePump is the only writer of a connection. Events queued while a
// frame is being written are batched into the next frame, one per line.
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// HandleWebSocket upgrades the request and subscribes it to finger events.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to websocket")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// BroadcastFingerEvent queues event for every connected client. Events are
// dropped rather than blocking the protocol when the hub falls behind.
func (h *WebSocketHub) BroadcastFingerEvent(event chord.FingerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
	default:
		wsDropped.Inc()
		if h.dropped.Add(1) == 1 {
			h.logger.Warn().Msg("Broadcast queue full, dropping events")
		}
	}
	return nil
}
