// Package session tracks per-tab mentoring sessions held in memory.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ax-mentor/internal/mentor"
)

// Settings are the per-session choices made in the sidebar.
type Settings struct {
	APIKey string
	Model  string
}

// Session is one browser tab's mentoring conversation.
type Session struct {
	UserID    string
	SessionID string
	State     *mentor.State
	CreatedAt time.Time

	mu       sync.Mutex
	settings Settings
	lastSeen time.Time
}

// Settings returns a copy of the session settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies fn to the session settings.
func (s *Session) UpdateSettings(fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	return s.settings
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// Manager owns every live session, keyed by user then tab session ID.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Session
	now    func() time.Time
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*Session),
		now:    time.Now,
	}
}

// Get returns the session for a user and tab, creating it on first access.
func (m *Manager) Get(userID, sessionID string) *Session {
	now := m.now()

	m.mu.RLock()
	sess := m.active[userID][sessionID]
	m.mu.RUnlock()
	if sess != nil {
		sess.touch(now)
		return sess
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Session)
	}
	if sess, exists := m.active[userID][sessionID]; exists {
		sess.touch(now)
		return sess
	}

	sess = &Session{
		UserID:    userID,
		SessionID: sessionID,
		State:     mentor.NewState(),
		CreatedAt: now,
		lastSeen:  now,
	}
	m.active[userID][sessionID] = sess
	slog.Info("Mentoring session created", "user_id", userID, "session_id", sessionID)
	return sess
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(userID, sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.active[userID][sessionID]
	return sess, ok
}

// Reset clears the conversation of a session, keeping its settings.
func (m *Manager) Reset(userID, sessionID string) {
	sess := m.Get(userID, sessionID)
	sess.State.Reset()
	slog.Info("Mentoring session reset", "user_id", userID, "session_id", sessionID)
}

// End removes a session and its state.
func (m *Manager) End(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if _, exists := sessions[sessionID]; exists {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Mentoring session ended", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Expired returns sessions idle for longer than ttl.
func (m *Manager) Expired(ttl time.Duration) []*Session {
	cutoff := m.now().Add(-ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*Session
	for _, sessions := range m.active {
		for _, sess := range sessions {
			if sess.LastSeen().Before(cutoff) {
				expired = append(expired, sess)
			}
		}
	}
	return expired
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
