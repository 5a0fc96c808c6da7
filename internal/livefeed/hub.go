// Package livefeed streams completed analysis runs to websocket
// subscribers, typically a dashboard watching noise reduction live.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/quell/internal/pipeline"
)

const (
	maxClients   = 64
	writeTimeout = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	Type string        `json:"type"`
	Run  *pipeline.Run `json:"run,omitempty"`
	At   time.Time     `json:"at"`
}

// Hub fans completed runs out to connected websocket clients. It
// implements pipeline.Notifier, so wiring it as the service's notifier
// puts every finished run on the feed.
type Hub struct {
	logger   log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	// writeMu serializes broadcasts; gorilla allows one writer per conn.
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// RunComplete broadcasts a finished run to every subscriber.
func (h *Hub) RunComplete(ctx context.Context, run *pipeline.Run) error {
	typ := "run_complete"
	if run.Status == pipeline.StatusFailed {
		typ = "run_failed"
	}
	h.broadcast(ctx, &Event{Type: typ, Run: run, At: time.Now().UTC()})
	return nil
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and holds it open until the client
// goes away. Clients are write-only; inbound messages are drained and
// discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= maxClients {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	h.logger.Info(r.Context(), "feed subscriber connected", "subscribers", h.ClientCount())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// read loop exists only to detect close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn(r.Context(), "feed subscriber dropped", "error", err.Error())
			}
			return
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) broadcast(ctx context.Context, ev *Event) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error(ctx, err, "failed to marshal feed event")
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	var failed []*websocket.Conn
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, conn)
		}
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, conn := range failed {
			delete(h.clients, conn)
			conn.Close()
		}
		h.mu.Unlock()
	}
}
