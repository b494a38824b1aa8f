package mcp

import (
	"maps"
	"slices"
	"sync"
)

// SessionRegistry remembers the MCP session each agent last called a tool
// from, so execution events can be pushed back to it.
type SessionRegistry struct {
	mu      sync.RWMutex
	byAgent map[string]string
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byAgent: make(map[string]string)}
}

// Register points agentID at sessionID, replacing any earlier session.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	r.byAgent[agentID] = sessionID
	r.mu.Unlock()
}

// SessionFor returns the session of agentID.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byAgent[agentID]
	return sid, ok
}

// Agents returns the registered agent ids, sorted.
func (r *SessionRegistry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byAgent))
}

// Remove forgets every agent bound to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	maps.DeleteFunc(r.byAgent, func(_, sid string) bool { return sid == sessionID })
	r.mu.Unlock()
}
