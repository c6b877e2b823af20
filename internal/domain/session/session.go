// Package session manages client-facing gateway sessions.
//
// Sessions are created on first contact from a client that presents no
// session token, touched on every subsequent message, and end by silence:
// there is no closing handshake, only a lazy idle sweep.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the idle duration after which a session is swept.
const DefaultTimeout = 1 * time.Hour

// ErrSessionNotFound is returned when a session doesn't exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// Session tracks one external client's connection lifetime.
type Session struct {
	// ID is an opaque unique token, never reused.
	ID string `json:"session_id"`
	// ChallengeID is the challenge associated with this session, if any.
	ChallengeID string `json:"challenge_id,omitempty"`
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time `json:"created_at"`
	// LastActive is the last time the session carried a message (UTC).
	LastActive time.Time `json:"last_active"`
	// MessageCount is the number of messages exchanged on this session.
	MessageCount int64 `json:"message_count"`
}

// Manager owns the session table. All mutations are linearizable per
// session id; concurrent touches never regress LastActive or lose a
// MessageCount increment.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Config holds session manager configuration.
type Config struct {
	// Timeout is the idle expiration duration. Default: one hour.
	Timeout time.Duration
}

// NewManager creates a session manager with the given config.
func NewManager(cfg Config) *Manager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Create generates a fresh session with a unique opaque token.
func (m *Manager) Create() *Session {
	now := m.now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastActive: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return copySession(s)
}

// Get retrieves a session by id. Expired sessions are reported as missing
// even before the sweep removes them.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var snapshot *Session
	if ok {
		snapshot = copySession(s)
	}
	m.mu.RUnlock()

	if !ok || m.expired(snapshot, m.now().UTC()) {
		return nil, ErrSessionNotFound
	}
	return snapshot, nil
}

// Touch marks the session active: increments the message count and advances
// LastActive. Out-of-order deliveries cannot move LastActive backwards.
// Returns false if the session is unknown or expired.
func (m *Manager) Touch(id string) bool {
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || m.expired(s, now) {
		return false
	}
	s.MessageCount++
	if now.After(s.LastActive) {
		s.LastActive = now
	}
	return true
}

// SetChallenge associates a challenge with a session.
func (m *Manager) SetChallenge(id, challengeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.ChallengeID = challengeID
	return true
}

// Sweep removes sessions idle longer than the configured timeout and
// returns the number removed. Intended to be invoked opportunistically,
// e.g. alongside status queries, not by a dedicated timer.
func (m *Manager) Sweep(now time.Time) int {
	now = now.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions, expired-but-unswept included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot returns copies of all sessions, for diagnostics.
func (m *Manager) Snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	return out
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActive) > m.timeout
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}
