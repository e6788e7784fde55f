// Package ws streams engine state to the front-end. The UI never polls:
// every lifecycle operation ends in a snapshot push, and URL mirror
// changes are pushed separately so the client can replaceState without
// a full re-render.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/monitoring"
	"github.com/studyowl/sessionsync/internal/navigation"
	"github.com/studyowl/sessionsync/internal/session"
)

const (
	writeWait = 10 * time.Second
	// sendBuffer bounds per-client queueing; a client that cannot keep up
	// is dropped rather than allowed to stall the broadcaster.
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback; the origin check is the CORS
		// layer's job for the HTTP API and moot here.
		return true
	},
}

type event struct {
	Type            string `json:"type"`
	Sessions        any    `json:"sessions,omitempty"`
	ActiveSessionID string `json:"active_session_id,omitempty"`
	URLSessionID    string `json:"url_session_id,omitempty"`
	Owner           string `json:"owner,omitempty"`
}

// Hub fans engine change notifications out to connected clients.
type Hub struct {
	engine  *session.Engine
	mirror  *navigation.Mirror
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan event
}

// NewHub creates the hub and subscribes it to the engine and URL mirror.
func NewHub(engine *session.Engine, mirror *navigation.Mirror, logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Hub{
		engine:  engine,
		mirror:  mirror,
		logger:  logger.Named("ws"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
	engine.OnChange(func() { h.broadcast(h.snapshotEvent()) })
	mirror.OnChange(func(id string) {
		h.broadcast(event{Type: "navigation", URLSessionID: id})
	})
	return h
}

// HandleConnection upgrades the request and serves the push stream until
// the client goes away.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan event, sendBuffer)}
	h.register(cl)
	h.metrics.WSConnected()

	// Every new client starts from a full snapshot.
	cl.send <- h.snapshotEvent()

	go h.writeLoop(cl)
	h.readLoop(cl)

	h.unregister(cl)
	h.metrics.WSDisconnected()
	conn.Close()
}

func (h *Hub) readLoop(cl *client) {
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			h.deliver(cl, event{Type: "pong"})
		case "snapshot":
			h.deliver(cl, h.snapshotEvent())
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	for ev := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(ev); err != nil {
			cl.conn.Close()
			return
		}
	}
}

func (h *Hub) snapshotEvent() event {
	activeID := ""
	if active, ok := h.engine.Active(); ok {
		activeID = active.ID
	}
	return event{
		Type:            "snapshot",
		Sessions:        h.engine.Snapshot(),
		ActiveSessionID: activeID,
		URLSessionID:    h.mirror.SessionParam(),
		Owner:           h.engine.Owner().String(),
	}
}

func (h *Hub) broadcast(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- ev:
		default:
			// Slow client. Drop it; it will reconnect and resnapshot.
			delete(h.clients, cl)
			close(cl.send)
			cl.conn.Close()
		}
	}
}

func (h *Hub) deliver(cl *client, ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- ev:
	default:
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}
