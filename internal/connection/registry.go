package connection

import (
	"errors"
	"sync"
)

var (
	ErrExists = errors.New("connection id already registered")
	ErrClosed = errors.New("connection already torn down")
)

// Registry maps connection ids to live connections.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Insert adds conn unless its id is taken or it is already terminal. The
// terminal check happens under the registry lock so a concurrent teardown
// either sees the entry and removes it or prevents the insert.
func (r *Registry) Insert(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrExists
	}
	if conn.Terminal() {
		return ErrClosed
	}
	r.connections[conn.ID()] = conn
	return nil
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[id]
	return ok
}

// Remove deletes id only if it still maps to conn, and reports whether it did.
func (r *Registry) Remove(id string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.connections[id]
	if !ok || current != conn {
		return false
	}
	delete(r.connections, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Snapshot returns the live connections in no particular order.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}
