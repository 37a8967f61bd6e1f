// Package server hosts the websocket endpoint: connection lifecycle, the
// request/reply envelope protocol, the typed event router and the broadcast
// hub behind chat and notifications.
package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/session"
)

// sendBuffer is the per-connection outbound queue length. A connection that
// cannot drain its queue gets dropped rather than blocking the hub.
const sendBuffer = 64

// Conn is one live websocket connection.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// enqueue queues an outbound message. It reports false when the connection is
// closed or its queue is full.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the connection down exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// Hub tracks live connections and implements the broadcast primitive used by
// the chat relay and the notification center.
type Hub struct {
	sessions *session.Registry
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub(sessions *session.Registry, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: sessions,
		logger:   logger,
		conns:    make(map[string]*Conn),
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
}

// Emit sends the event to every live connection except the excluded ones.
func (h *Hub) Emit(event relay.Event, exclude ...string) {
	msg, err := marshalPush(event)
	if err != nil {
		h.logger.Error("failed to encode push", zap.String("event", event.Name), zap.Error(err))
		return
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, conn := range h.conns {
		if _, skip := excluded[id]; skip {
			continue
		}
		if !conn.enqueue(msg) {
			h.logger.Warn("dropping push for slow connection", zap.String("connId", id))
		}
	}
}

// EmitTo sends the event to all of one user's connections.
func (h *Hub) EmitTo(userID string, event relay.Event) {
	msg, err := marshalPush(event)
	if err != nil {
		h.logger.Error("failed to encode push", zap.String("event", event.Name), zap.Error(err))
		return
	}

	for _, connID := range h.sessions.Conns(userID) {
		h.mu.RLock()
		conn, ok := h.conns[connID]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if !conn.enqueue(msg) {
			h.logger.Warn("dropping push for slow connection", zap.String("connId", connID))
		}
	}
}

// marshalPush encodes a server push. Pushes use envelope id 0 so clients can
// tell them apart from replies.
func marshalPush(event relay.Event) ([]byte, error) {
	return json.Marshal(pushEnvelope{ID: 0, Event: event.Name, Args: event.Args})
}
