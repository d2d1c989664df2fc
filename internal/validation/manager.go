package validation

import (
	"sync"
	"time"

	"timbangpos/backend/internal/xid"
)

const sessionIdleLimit = 30 * time.Minute

type session struct {
	pipeline *Pipeline
	lastSeen time.Time
}

// Manager tracks one pipeline per open customer form. Sessions idle past
// the limit are closed and dropped on the next Start call.
type Manager struct {
	lookup   Lookup
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(lookup Lookup, debounce time.Duration) *Manager {
	return &Manager{
		lookup:   lookup,
		debounce: debounce,
		sessions: make(map[string]*session),
	}
}

// Start opens a validation session, optionally excluding an existing
// customer record from uniqueness checks (edit mode).
func (m *Manager) Start(excludeID string) string {
	id := xid.New("vs")
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, s := range m.sessions {
		if now.Sub(s.lastSeen) > sessionIdleLimit {
			s.pipeline.Close()
			delete(m.sessions, sid)
		}
	}
	m.sessions[id] = &session{
		pipeline: New(m.lookup, m.debounce, excludeID),
		lastSeen: now,
	}
	return id
}

func (m *Manager) Get(id string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastSeen = time.Now()
	return s.pipeline, true
}

func (m *Manager) End(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.pipeline.Close()
		delete(m.sessions, id)
	}
}
