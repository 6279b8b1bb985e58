package torrent

import "sync"

// Registry tracks the sessions that currently have a polling goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s unless another session already owns its download id.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.DownloadID]; ok {
		return false
	}

	r.sessions[s.DownloadID] = s
	activeSessions.Set(float64(len(r.sessions)))
	return true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops s. A newer session registered under the same id is kept.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.DownloadID]; ok && cur == s {
		delete(r.sessions, s.DownloadID)
	}
	activeSessions.Set(float64(len(r.sessions)))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the registered sessions at the time of the call.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns a copy of every session summary keyed by download id.
func (r *Registry) Snapshot() map[string]*SessionSummary {
	out := make(map[string]*SessionSummary)
	for _, s := range r.Sessions() {
		out[s.DownloadID] = s.Summary()
	}
	return out
}
