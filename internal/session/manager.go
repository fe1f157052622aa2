package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Manager lookups for unknown or already
// abandoned session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Manager is the in-memory registry of active consultation sessions. Each
// session is independently constructible and destructible; the registry adds
// only issuance of session IDs and lookup. Abandoning a session simply drops
// it — no background work continues on its behalf.
//
// Manager is safe for concurrent use.
type Manager struct {
	resolver IdentityResolver
	reports  ReportWriter

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a registry whose sessions share the given
// collaborators.
func NewManager(resolver IdentityResolver, reports ReportWriter) *Manager {
	return &Manager{
		resolver: resolver,
		reports:  reports,
		sessions: make(map[string]*Session),
	}
}

// Start creates a new session, fires the opening transition, and registers
// it under a fresh UUID.
func (m *Manager) Start() (*Session, error) {
	s := New(uuid.NewString(), m.resolver, m.reports)
	if err := s.Start(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session registered under id, or ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Abandon drops the session from the registry. Dropping is a no-op from the
// engine's perspective; any terminal failure state is simply discarded.
func (m *Manager) Abandon(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns registered sessions ordered by creation time, newest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().After(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
