package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Connections tracks the open WebSocket per user and tab session.
type Connections struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the active connection for a user and session.
func (c *Connections) Get(userID, sessionID string) *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[userID][sessionID]
}

// Register adds a connection, closing any older one for the same tab.
func (c *Connections) Register(userID, sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.active[userID]; !exists {
		c.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := c.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	c.active[userID][sessionID] = conn
	slog.Info("Mentor socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered one.
func (c *Connections) Unregister(userID, sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessions, ok := c.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(c.active, userID)
			}
			slog.Info("Mentor socket unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession closes the socket of an ended session.
func (c *Connections) CloseSession(userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions, ok := c.active[userID]
	if !ok {
		return
	}
	if conn, exists := sessions[sessionID]; exists {
		_ = conn.Close(websocket.StatusNormalClosure, "session expired")
		delete(sessions, sessionID)
		slog.Info("Mentor socket closed", "user_id", userID, "session_id", sessionID)
	}
	if len(sessions) == 0 {
		delete(c.active, userID)
	}
}

// CloseAll closes every registered socket.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, sessions := range c.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(c.active, userID)
	}
}

// Count returns the number of open sockets.
func (c *Connections) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, sessions := range c.active {
		n += len(sessions)
	}
	return n
}
