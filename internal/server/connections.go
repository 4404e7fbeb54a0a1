package server

import (
	"sync"

	"github.com/coder/websocket"
)

// SessionInfo tracks one live connection's identity and its room
// association. The player id doubles as the connection id; it is
// assigned at accept time and dies with the transport.
type SessionInfo struct {
	PlayerID string
	RoomID   string
}

type ConnectionManager struct {
	connections map[string]*websocket.Conn // playerID -> socket
	sessions    map[string]SessionInfo     // playerID -> session info
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		sessions:    make(map[string]SessionInfo),
	}
}

func (cm *ConnectionManager) AddConnection(playerID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[playerID] = conn
	cm.sessions[playerID] = SessionInfo{PlayerID: playerID}
}

func (cm *ConnectionManager) RemoveConnection(playerID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, playerID)
	delete(cm.sessions, playerID)
}

// SetRoom records which room the session is seated in. A session is in
// at most one room; hosting or joining overwrites the association.
func (cm *ConnectionManager) SetRoom(playerID, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if session, exists := cm.sessions[playerID]; exists {
		session.RoomID = roomID
		cm.sessions[playerID] = session
	}
}

// GetRoom returns the session's room id; ok is false when the session
// is unknown or not seated anywhere.
func (cm *ConnectionManager) GetRoom(playerID string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	session, exists := cm.sessions[playerID]
	if !exists || session.RoomID == "" {
		return "", false
	}
	return session.RoomID, true
}

func (cm *ConnectionManager) GetConnection(playerID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[playerID]
}
