package server

import "sync"

// Registry maps authenticated usernames to their live session. At most one
// session per username; a second login for the same name evicts the first.
// Only the event loop mutates it, but reads are locked so metrics and
// housekeeping can inspect it safely.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Bind associates username with s. If another session already holds the
// name it is returned so the caller can tear it down.
func (r *Registry) Bind(username string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[username]
	if prev == s {
		prev = nil
	}
	r.sessions[username] = s
	return prev
}

// Unbind removes username's entry but only if it still points at s, so a
// stale teardown cannot evict a fresher login.
func (r *Registry) Unbind(username string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[username] != s {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Lookup returns the live session for username, if any.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Online returns the usernames with a live session, unordered.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// Count returns the number of bound sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every bound session. fn must not mutate the registry.
func (r *Registry) Each(fn func(username string, s *Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.sessions {
		fn(name, s)
	}
}
