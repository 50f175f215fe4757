package session

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateSession is returned by Put when the connection already has a session.
	ErrDuplicateSession = errors.New("session already registered for connection")

	// ErrSessionNotFound is returned by Get when the connection has no session.
	ErrSessionNotFound = errors.New("no session registered for connection")
)

// Registry maps connection IDs to their active recognition session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Put registers s under connID.
func (r *Registry) Put(connID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[connID] = s
	return nil
}

// Get returns the session registered under connID.
func (r *Registry) Get(connID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove deletes the entry for connID. Removing an absent entry is a no-op;
// the return value reports whether anything was removed.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connID]; !ok {
		return false
	}
	delete(r.sessions, connID)
	return true
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a copy of the registered sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
