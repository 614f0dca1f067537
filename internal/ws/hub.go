package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rag-engine/internal/events"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
)

// StatusUpdate is the frame pushed to subscribers after every successful
// status write.
type StatusUpdate struct {
	Type     string               `json:"type"`
	StatusID string               `json:"status_id"`
	Record   *models.StatusRecord `json:"record"`
	At       time.Time            `json:"at"`
}

// command is an inbound frame changing a connection's subscriptions.
type command struct {
	Action   string `json:"action"`
	StatusID string `json:"status_id"`
}

// Hub fans status events out to WebSocket clients keyed by status id. A
// client subscribes to the id in its connect URL and may add or remove ids
// with subscribe/unsubscribe frames. The registry tolerates stale entries:
// a dead connection is purged on its first failed write or read.
type Hub struct {
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*websocket.Conn]map[string]bool
	subs  map[string]map[*websocket.Conn]bool
}

// NewHub creates a hub reading from the given event bus.
func NewHub(bus *events.Bus, m *metrics.Metrics, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(log.Writer(), "[WS] ", log.LstdFlags)
	}
	return &Hub{
		bus:     bus,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]map[string]bool),
		subs:  make(map[string]map[*websocket.Conn]bool),
	}
}

// Run consumes the event bus until the context is cancelled. All writes to
// client connections happen on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	feed := h.bus.Subscribe()
	defer h.bus.Unsubscribe(feed)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case evt, ok := <-feed:
			if !ok {
				h.closeAll()
				return
			}
			h.dispatch(evt)
		}
	}
}

// ServeHTTP upgrades the request and registers the connection. The optional
// status_id query parameter is the initial subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Upgrade failed: %v", err)
		return
	}

	h.register(conn, r.URL.Query().Get("status_id"))
	go h.readPump(conn)
}

// Stats snapshots the registry for the operator surface.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(h.conns),
		"watched_documents": len(h.subs),
	}
}

func (h *Hub) register(conn *websocket.Conn, statusID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn] = make(map[string]bool)
	if statusID != "" {
		h.conns[conn][statusID] = true
		h.addSub(conn, statusID)
	}
	h.metrics.WebsocketClients.Inc()
	h.logger.Printf("Client connected watching %q (total: %d)", statusID, len(h.conns))
}

func (h *Hub) subscribe(conn *websocket.Conn, statusID string) {
	if statusID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, ok := h.conns[conn]
	if !ok {
		return
	}
	ids[statusID] = true
	h.addSub(conn, statusID)
}

func (h *Hub) unsubscribe(conn *websocket.Conn, statusID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ids, ok := h.conns[conn]; ok {
		delete(ids, statusID)
	}
	h.removeSub(conn, statusID)
}

// drop purges the connection from the registry and closes it. Safe to call
// twice: the write path and the read pump can both detect the same death.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, ok := h.conns[conn]
	if !ok {
		return
	}
	for statusID := range ids {
		h.removeSub(conn, statusID)
	}
	delete(h.conns, conn)
	conn.Close()
	h.metrics.WebsocketClients.Dec()
	h.logger.Printf("Client disconnected (total: %d)", len(h.conns))
}

// addSub and removeSub assume h.mu is held.
func (h *Hub) addSub(conn *websocket.Conn, statusID string) {
	if h.subs[statusID] == nil {
		h.subs[statusID] = make(map[*websocket.Conn]bool)
	}
	h.subs[statusID][conn] = true
}

func (h *Hub) removeSub(conn *websocket.Conn, statusID string) {
	if set, ok := h.subs[statusID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.subs, statusID)
		}
	}
}

func (h *Hub) dispatch(evt events.StatusEvent) {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.subs[evt.StatusID]))
	for conn := range h.subs[evt.StatusID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	msg := StatusUpdate{
		Type:     "status",
		StatusID: evt.StatusID,
		Record:   evt.Record,
		At:       evt.At,
	}
	for _, conn := range targets {
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Printf("Write to subscriber of %s failed, purging: %v", evt.StatusID, err)
			h.drop(conn)
		}
	}
}

// readPump consumes subscription frames until the connection dies.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.drop(conn)

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "subscribe":
			h.subscribe(conn, cmd.StatusID)
		case "unsubscribe":
			h.unsubscribe(conn, cmd.StatusID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		conn.Close()
		h.metrics.WebsocketClients.Dec()
	}
	h.conns = make(map[*websocket.Conn]map[string]bool)
	h.subs = make(map[string]map[*websocket.Conn]bool)
}
