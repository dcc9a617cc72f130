// Package session tracks session identity, channel
// affinity, and the per-session run-lock registry that guarantees at most
// one agent loop ever holds a given session's run-lock at a time.
//
// Run-locks are refcounted mutexes cached per session id, kept in their
// own package so the agent loop, the scheduler, and the sub-agent
// orchestrator all share one registry instance instead of each runtime
// holding a private copy.
package session

import (
	"strings"
	"sync"
	"time"
)

// Session is one conversation's identity and affinity record.
type Session struct {
	ID           string
	Name         string
	Channel      string
	Target       string
	Active       bool
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns the session directory and the run-lock registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byTarget map[string]string // "channel\x00target" -> session id, active only

	locksMu sync.Mutex
	locks   map[string]*runLock
}

// NewManager creates an empty Session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byTarget: make(map[string]string),
		locks:    make(map[string]*runLock),
	}
}

func targetKey(channel, target string) string {
	return channel + "\x00" + target
}

// FindOrCreate returns the active session matching (channel, target), or
// creates a new one. The (channel, target) pair is unique across active
// sessions when both are present.
func (m *Manager) FindOrCreate(id string, channel, target string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if channel != "" && target != "" {
		key := targetKey(channel, target)
		if existingID, ok := m.byTarget[key]; ok {
			if s, ok := m.sessions[existingID]; ok && s.Active {
				return s
			}
			delete(m.byTarget, key)
		}
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		Channel:   channel,
		Target:    target,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = s
	if channel != "" && target != "" {
		m.byTarget[targetKey(channel, target)] = id
	}
	return s
}

// GetOrInsert upserts a session by id, backfilling channel/target on an
// existing session if they were previously unset.
func (m *Manager) GetOrInsert(id, channel, target string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		if s.Channel == "" && channel != "" {
			s.Channel = channel
		}
		if s.Target == "" && target != "" {
			s.Target = target
		}
		if s.Channel != "" && s.Target != "" {
			m.byTarget[targetKey(s.Channel, s.Target)] = id
		}
		s.UpdatedAt = time.Now()
		return s
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		Channel:   channel,
		Target:    target,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = s
	if channel != "" && target != "" {
		m.byTarget[targetKey(channel, target)] = id
	}
	return s
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IncrementMessageCount bumps the session's message counter, e.g. once per
// appended working-memory message.
func (m *Manager) IncrementMessageCount(id string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.MessageCount += delta
		s.UpdatedAt = time.Now()
	}
}

// Deactivate marks a session inactive, freeing its (channel, target) slot
// for a future FindOrCreate.
func (m *Manager) Deactivate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.Active = false
	if s.Channel != "" && s.Target != "" {
		delete(m.byTarget, targetKey(s.Channel, s.Target))
	}
}

// Lock acquires the exclusive run-lock for a session, blocking until
// available. The returned func releases it. Invariant:
// at any moment at most one agent loop holds a session's run-lock.
func (m *Manager) Lock(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}

	m.locksMu.Lock()
	lock := m.locks[sessionID]
	if lock == nil {
		lock = &runLock{}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
	}
}

// TryLock attempts to acquire the run-lock without blocking. Returns the
// release func and true on success, or nil and false if already held.
func (m *Manager) TryLock(sessionID string) (func(), bool) {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}, true
	}

	m.locksMu.Lock()
	lock := m.locks[sessionID]
	if lock == nil {
		lock = &runLock{}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	if !lock.mu.TryLock() {
		m.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
		return nil, false
	}

	return func() {
		lock.mu.Unlock()
		m.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
	}, true
}
