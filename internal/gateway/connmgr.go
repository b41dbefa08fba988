package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Conn is one monitor WebSocket connection.
type Conn struct {
	ID          string
	RemoteAddr  string
	WS          *websocket.Conn
	writeMu     sync.Mutex
	ConnectedAt time.Time
}

// Send writes a frame to the connection (thread-safe). Slow clients time out
// instead of stalling the broadcaster.
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.WS.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WS.WriteJSON(frame)
}

// ConnManager tracks monitor connections.
type ConnManager struct {
	mu    sync.Mutex
	conns map[string]*Conn // connID → conn
	seq   int
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

// Remove unregisters a connection.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Broadcast sends an event to all connections.
func (m *ConnManager) Broadcast(event string, payload any) {
	m.mu.Lock()
	m.seq++
	frame := EventFrame(event, m.seq, payload)
	targets := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			slog.Warn("broadcast failed", "conn", conn.ID, "error", err)
		}
	}
}

// ClientCount returns the number of connected monitors.
func (m *ConnManager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// List returns connection info.
func (m *ConnManager) List() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, map[string]any{
			"id":          conn.ID,
			"remoteAddr":  conn.RemoteAddr,
			"connectedAt": conn.ConnectedAt,
		})
	}
	return out
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
