package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	// clientSendBuffer is the per-client queue beyond the catch-up backlog.
	// Clients that fall further behind are dropped.
	clientSendBuffer = 256

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub fans frames out to websocket clients and keeps the frames of the
// current run so late joiners can catch up. It is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	backlog []render.Frame
	closed  bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Sink returns the session sink that broadcasts through h.
func (h *Hub) Sink() session.Sink {
	return render.NewFrameSink(h.Broadcast)
}

// Broadcast records f and queues it for every client.
func (h *Hub) Broadcast(f render.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		logger.Warnf("hub: marshal frame: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.record(f)
	for c := range h.clients {
		if !c.queue(data) {
			logger.Warnf("hub: client %s too slow, dropping", c.id)
			h.dropLocked(c)
		}
	}
}

// record appends f to the backlog. Continuation text is merged into the
// previous text frame so the backlog grows with blocks, not deltas.
func (h *Hub) record(f render.Frame) {
	if f.Type == render.FrameReset {
		h.backlog = h.backlog[:0]
	}
	if f.Type == render.FrameText && !f.NewBlock && len(h.backlog) > 0 {
		last := &h.backlog[len(h.backlog)-1]
		if last.Type == render.FrameText {
			last.Text += f.Text
			return
		}
	}
	h.backlog = append(h.backlog, f)
}

// Backlog returns a copy of the recorded frames.
func (h *Hub) Backlog() []render.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]render.Frame(nil), h.backlog...)
}

// Clients returns the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// attach registers conn and queues the backlog ahead of any live frame.
func (h *Hub) attach(id string, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, len(h.backlog)+clientSendBuffer),
	}
	if h.closed {
		close(c.send)
		return c
	}
	for _, f := range h.backlog {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		c.send <- data
	}
	h.clients[c] = struct{}{}
	return c
}

// reply queues a message for one client.
func (h *Hub) reply(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("hub: marshal reply: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if !c.queue(data) {
		h.dropLocked(c)
	}
}

// attached reports whether c is still registered.
func (h *Hub) attached(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[c]
	return ok
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects every client. Later broadcasts are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	// send is closed by the hub, under its lock, when the client is dropped.
	send chan []byte
}

func (c *client) queue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains send until the hub drops the client, then closes the
// connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("hub: write to %s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
