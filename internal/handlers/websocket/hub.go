package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"smartBin/internal/domain/useCases"
)

// Dashboard message kinds.
const (
	KindDetectionUpdate = "detectionUpdate"
	KindBinStatus       = "binStatus"
	KindSystemStatus    = "systemStatus"
	KindAlert           = "alert"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("connection send buffer full")
)

// Connection is one live dashboard subscriber.
type Connection interface {
	ID() string
	// Send queues or writes msg. An error means the connection is unusable.
	Send(msg []byte) error
	Close() error
}

// HubMetrics observes hub activity.
type HubMetrics interface {
	BroadcastDelivered(kind string, n int)
	BroadcastFailed()
	SetConnections(n int)
}

// Message is the envelope every dashboard message is wrapped in.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks live connections and fans messages out to all of them.
// Broadcasts are serialized, so every connection sees messages in call order.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Connection

	sendMu sync.Mutex

	metrics HubMetrics
	log     *slog.Logger
}

func NewHub(metrics HubMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		conns:   make(map[string]Connection),
		metrics: metrics,
		log:     logger.With("component", "hub"),
	}
}

func (h *Hub) Register(conn Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	n := len(h.conns)
	h.mu.Unlock()

	h.log.Debug("connection registered", "id", conn.ID(), "connections", n)
	if h.metrics != nil {
		h.metrics.SetConnections(n)
	}
}

// Unregister removes conn. It is a no-op for a connection that is not registered and
// reports whether anything was removed.
func (h *Hub) Unregister(conn Connection) bool {
	h.mu.Lock()
	cur, ok := h.conns[conn.ID()]
	if ok && cur == conn {
		delete(h.conns, conn.ID())
	} else {
		ok = false
	}
	n := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return false
	}
	h.log.Debug("connection unregistered", "id", conn.ID(), "connections", n)
	if h.metrics != nil {
		h.metrics.SetConnections(n)
	}
	return true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends {"type": kind, "data": payload} to every registered connection and returns
// how many accepted it. A connection whose send fails is closed and unregistered; the rest
// still receive the message.
func (h *Hub) Broadcast(kind string, payload any) int {
	msg, err := json.Marshal(Message{Type: kind, Data: payload})
	if err != nil {
		h.log.Error("failed to marshal broadcast", "kind", kind, "error", err)
		return 0
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.RLock()
	targets := make([]Connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			h.log.Warn("send failed, dropping connection", "id", c.ID(), "kind", kind, "error", err)
			if h.metrics != nil {
				h.metrics.BroadcastFailed()
			}
			if h.Unregister(c) {
				_ = c.Close()
			}
			continue
		}
		delivered++
	}

	if h.metrics != nil {
		h.metrics.BroadcastDelivered(kind, delivered)
	}
	return delivered
}

var _ useCases.Broadcaster = (*Hub)(nil)
