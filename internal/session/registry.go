// Package session tracks which live connections belong to which registered
// user. The mapping is in-memory only and rebuilt every process run.
package session

import "sync"

// Registry maps connection ids to user ids. A connection belongs to at most
// one user; a user may hold many connections at once (multi-device login).
//
// Handlers run on one goroutine per connection, so unlike a single-threaded
// event loop the registry guards its maps with a mutex.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string
	byUser map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Bind associates a connection with a user. Rebinding a connection to a new
// user (register/login on an already-bound connection) replaces the old
// association.
func (r *Registry) Bind(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.removeConn(prev, connID)
	}
	r.byConn[connID] = userID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
}

// Unbind removes a connection. It returns the owning user id and whether this
// was the user's last connection; ok is false for unknown connections.
func (r *Registry) Unbind(connID string) (userID string, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[connID]
	if !ok {
		return "", false, false
	}
	delete(r.byConn, connID)
	r.removeConn(userID, connID)
	return userID, len(r.byUser[userID]) == 0, true
}

// removeConn drops a connection from the per-user set. Caller holds the lock.
func (r *Registry) removeConn(userID, connID string) {
	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
}

// UserByConn resolves the user owning a connection.
func (r *Registry) UserByConn(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}

// Conns returns all connection ids held by a user.
func (r *Registry) Conns(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.byUser[userID]))
	for connID := range r.byUser[userID] {
		conns = append(conns, connID)
	}
	return conns
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0
}
