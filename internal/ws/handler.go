// Package ws pushes firewall events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegis-waf/aegis-go/internal/events"
	"github.com/aegis-waf/aegis-go/internal/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Manager tracks active WebSocket connections and broadcasts bus events to
// all of them.
type Manager struct {
	mu          sync.RWMutex
	connections []*websocket.Conn

	bus    *events.Bus
	stats  *stats.Collector
	logger *slog.Logger
}

// NewManager creates a manager that will broadcast events from bus and
// hydrate new clients from the stats collector.
func NewManager(bus *events.Bus, collector *stats.Collector, logger *slog.Logger) *Manager {
	return &Manager{bus: bus, stats: collector, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	// Hydrate before registering: once the connection is in the broadcast
	// list only the Run goroutine writes to it, and gorilla connections do
	// not tolerate concurrent writers.
	m.hydrate(conn)

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	// Keep the connection alive; inbound messages are ignored.
	defer func() {
		m.remove(conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// hydrate sends the current counters so a fresh dashboard is not empty
// until the next event.
func (m *Manager) hydrate(conn *websocket.Conn) {
	if m.stats == nil {
		return
	}
	snap := m.stats.Snapshot()
	m.sendJSON(conn, map[string]any{
		"type":             "stats",
		"total_requests":   snap.TotalRequests,
		"blocked_requests": snap.BlockedRequests,
		"threats_detected": snap.ThreatsDetected,
		"block_rate":       snap.BlockRate,
		"threat_rate":      snap.ThreatRate,
		"since":            snap.Since.Format(time.RFC3339),
	})
}

// Run subscribes to the bus and broadcasts until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ch, cancel := m.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			m.broadcast(ev.JSON())
		}
	}
}

func (m *Manager) broadcast(msg []byte) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, len(m.connections))
	copy(conns, m.connections)
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			m.remove(conn)
			conn.Close()
		}
	}
}

// ConnCount reports the number of registered connections.
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.connections {
		if c == conn {
			m.connections = append(m.connections[:i], m.connections[i+1:]...)
			return
		}
	}
}

func (m *Manager) sendJSON(conn *websocket.Conn, data map[string]any) {
	msg, err := json.Marshal(data)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		m.logger.Warn("websocket write failed", "err", err)
	}
}
