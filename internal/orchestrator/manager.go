package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tensei-bridge/backend/internal/bridge"
	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/session"
)

// Manager owns the set of live migration sessions, one orchestrator
// per session. Each orchestrator carries its own lock; the manager's
// lock only guards the map.
type Manager struct {
	mu       sync.RWMutex
	cfg      *config.Config
	live     bridge.Client
	notify   func(*session.State)
	sessions map[string]*Orchestrator
}

func NewManager(cfg *config.Config, live bridge.Client, notify func(*session.State)) *Manager {
	return &Manager{
		cfg:      cfg,
		live:     live,
		notify:   notify,
		sessions: make(map[string]*Orchestrator),
	}
}

// Create registers a fresh session and returns its orchestrator.
func (m *Manager) Create() *Orchestrator {
	o := New(uuid.NewString(), m.cfg.Workflow, m.live, m.cfg.Bridge.Offline, m.notify)
	m.mu.Lock()
	m.sessions[o.State().ID] = o
	m.mu.Unlock()
	return o
}

func (m *Manager) Get(id string) (*Orchestrator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.sessions[id]
	return o, ok
}

// Remove discards a session, stopping its background work first.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	o, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		o.Close()
	}
}

// States snapshots every session's state.
func (m *Manager) States() []*session.State {
	m.mu.RLock()
	orchs := make([]*Orchestrator, 0, len(m.sessions))
	for _, o := range m.sessions {
		orchs = append(orchs, o)
	}
	m.mu.RUnlock()

	states := make([]*session.State, 0, len(orchs))
	for _, o := range orchs {
		states = append(states, o.State())
	}
	return states
}

// Close stops every session's background work. Used at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.sessions))
	for _, o := range m.sessions {
		orchs = append(orchs, o)
	}
	m.sessions = make(map[string]*Orchestrator)
	m.mu.Unlock()

	for _, o := range orchs {
		o.Close()
	}
}
