package scanner

import (
	"errors"
	"sort"
	"sync"
)

var ErrSessionExists = errors.New("scan session already open")

// SessionInfo is a read-only view of an open session.
type SessionInfo struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	State    State  `json:"state"`
}

// Manager tracks the scan sessions of connected scanner pages. Sessions share
// the roster, ledger and device locker; each brings its own camera.
type Manager struct {
	base Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewManager creates a manager whose controllers start from base and deps.
func NewManager(base Config, deps Deps) *Manager {
	return &Manager{base: base, deps: deps, sessions: make(map[string]*Controller)}
}

// Open creates the controller for sessionID scanning with deviceID's camera.
func (m *Manager) Open(sessionID, deviceID string, camera Camera, notifier Notifier) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil, ErrSessionExists
	}
	cfg := m.base
	cfg.DeviceID = deviceID
	deps := m.deps
	deps.Camera = camera
	deps.Notifier = notifier
	c := NewController(cfg, deps)
	m.sessions[sessionID] = c
	return c, nil
}

// Close stops and forgets a session. Unknown ids are ignored.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	c, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		c.Stop()
	}
}

// Sessions lists open sessions ordered by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for id, c := range m.sessions {
		out = append(out, SessionInfo{ID: id, DeviceID: c.DeviceID(), State: c.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopAll closes every session; used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range sessions {
		c.Stop()
	}
}
