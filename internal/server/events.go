package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/network"
)

// Event types pushed on /api/events
const (
	EventHello          = "hello"
	EventNetworkChanged = "network_changed"
	EventRefreshFailed  = "network_refresh_failed"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Event is one message of the event feed. Seq increases by one per published
// event so clients can detect drops.
type Event struct {
	Seq  uint64      `json:"seq"`
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// ChangePayload describes a refresh outcome.
type ChangePayload struct {
	Generation     string `json:"generation"`
	Reason         string `json:"reason,omitempty"`
	Full           bool   `json:"full"`
	Error          string `json:"error,omitempty"`
	BindInterfaces int    `json:"bindInterfaces"`
}

func changePayload(generation uuid.UUID, reason string, full bool, snap *network.Snapshot) ChangePayload {
	p := ChangePayload{Generation: generation.String(), Reason: reason, Full: full}
	if snap != nil {
		p.BindInterfaces = len(snap.BindInterfaces)
	}
	return p
}

// EventHub fans events out to websocket clients. A client that cannot keep up
// is disconnected instead of slowing the others.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*eventClient
	closed  bool
	seq     atomic.Uint64
}

// NewEventHub creates an empty hub
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[string]*eventClient)}
}

func (h *EventHub) encode(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(Event{
		Seq:  h.seq.Add(1),
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	})
}

// Publish sends an event to every connected client
func (h *EventHub) Publish(eventType string, data interface{}) {
	msg, err := h.encode(eventType, data)
	if err != nil {
		logger.WithError(err).Error("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.WithField("client", id).Warn("Event client too slow, disconnecting")
			close(c.send)
			delete(h.clients, id)
		}
	}
}

func (h *EventHub) add(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Close disconnects every client and refuses new ones
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// writeLoop owns all writes to the connection
func (c *eventClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readLoop discards client messages and notices disconnects
func (c *eventClient) readLoop(hub *EventHub) {
	defer func() {
		hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithField("client", c.id).WithError(err).Debug("Event client disconnected")
			}
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin is not checked; the remote access gate already ran
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket that first receives a hello event with
// the current generation, then every network change.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	client := &eventClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	snap := s.network.Snapshot()
	hello, err := s.hub.encode(EventHello, changePayload(snap.Generation, "", false, snap))
	if err == nil {
		client.send <- hello
	}

	if !s.hub.add(client) {
		conn.Close()
		return
	}

	go client.writeLoop()
	client.readLoop(s.hub)
}
