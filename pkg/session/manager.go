package session

import (
	"sync"
)

// Manager holds the live sessions of one proxy or server process. Unlike a
// TTL cache, sessions have no idle expiry: a session lives exactly as long
// as its two connections, so the manager only tracks membership and enforces
// the admission limit.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	limit    int
}

// NewManager creates a session manager. limit <= 0 means unlimited.
func NewManager(limit int) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		limit:    limit,
	}
}

// Add registers a session. Returns ErrTooManySessions when the admission
// limit is reached; the caller must refuse the new connection rather than
// degrade existing sessions.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && len(m.sessions) >= m.limit {
		return ErrTooManySessions
	}
	if _, exists := m.sessions[s.Key()]; exists {
		return ErrSessionExists
	}
	m.sessions[s.Key()] = s
	return nil
}

// Get retrieves a session by key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove drops a session from the table. It does not close it; teardown is
// the session's own job (OnClose callbacks call Remove, not the reverse).
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Kill forcibly closes a session by key. Used by the administrative API.
func (m *Manager) Kill(key string) error {
	s, ok := m.Get(key)
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// List returns a snapshot of all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session and waits for their teardown.
func (m *Manager) CloseAll() {
	snapshot := m.List()
	for _, s := range snapshot {
		s.Close()
	}
	for _, s := range snapshot {
		s.Wait()
	}
}
