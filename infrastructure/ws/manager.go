package ws

import (
	"sort"
	"sync"
)

// ConnectionManager is the registry of live connections, keyed by connection id.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
	}
}

func (m *ConnectionManager) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connections[conn.Id()]; exists {
		return newConnectionError(conn.Id(), "register", KindDuplicateConnection, ErrDuplicateConnection)
	}
	m.connections[conn.Id()] = conn
	return nil
}

// Unregister removes the connection with the given id and returns it.
func (m *ConnectionManager) Unregister(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, exists := m.connections[id]
	if exists {
		delete(m.connections, id)
	}
	return conn, exists
}

// unregisterExact removes conn only if it is the instance registered under
// its id, so a stale reference never evicts a newer connection.
func (m *ConnectionManager) unregisterExact(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.connections[conn.Id()]
	if !exists || current != conn {
		return false
	}
	delete(m.connections, conn.Id())
	return true
}

func (m *ConnectionManager) Lookup(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, exists := m.connections[id]
	return conn, exists
}

// contains reports whether conn itself, not just its id, is registered.
func (m *ConnectionManager) contains(conn *Connection) bool {
	current, exists := m.Lookup(conn.Id())
	return exists && current == conn
}

// All returns a point-in-time copy of the registered connections, oldest first.
func (m *ConnectionManager) All() []*Connection {
	m.mu.RLock()
	all := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		all = append(all, conn)
	}
	m.mu.RUnlock()

	sortByConnectedAt(all)
	return all
}

// ByUser returns the connections authenticated as userId.
func (m *ConnectionManager) ByUser(userId string) []*Connection {
	m.mu.RLock()
	conns := make([]*Connection, 0)
	for _, conn := range m.connections {
		if conn.UserId() == userId {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	sortByConnectedAt(conns)
	return conns
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func sortByConnectedAt(conns []*Connection) {
	sort.SliceStable(conns, func(i, j int) bool {
		if conns[i].ConnectedAt().Equal(conns[j].ConnectedAt()) {
			return conns[i].Id() < conns[j].Id()
		}
		return conns[i].ConnectedAt().Before(conns[j].ConnectedAt())
	})
}
