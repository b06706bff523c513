package mcp

import "sync"

// SessionRegistry maps actor IDs to MCP session IDs.
// Populated when a client casts for an actor or reads its inbox.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // actorID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an actor ID with a session ID, replacing any
// previous session.
func (r *SessionRegistry) Register(actorID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[actorID] = sessionID
}

// SessionFor returns the session ID driving the actor, if any.
func (r *SessionRegistry) SessionFor(actorID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[actorID]
	return sid, ok
}

// Remove deletes all actor mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, aid)
		}
	}
}

// Len returns the number of mapped actors.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
