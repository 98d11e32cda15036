package pairing

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotRunning is returned when no pairing session exists for a key.
var ErrNotRunning = errors.New("no pairing in progress")

// Manager keeps at most one session per key (user and instance).
type Manager struct {
	poller *Poller
	ctx    context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions are children of ctx, so they
// all end when ctx is cancelled at shutdown.
func NewManager(ctx context.Context, poller *Poller) *Manager {
	return &Manager{
		poller:   poller,
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Key builds the session key for a user's instance.
func Key(userID, instance string) string {
	return userID + "/" + instance
}

// Start begins waiting for instance to pair, replacing any session already
// running for key. onDone runs when the new session ends for any reason.
func (m *Manager) Start(key string, fetcher StateFetcher, instance string, onDone func(Result)) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[key]; ok {
		old.Stop()
		log.Debug().Str("key", key).Msg("Replacing running pairing session")
	}

	var s *Session
	s = m.poller.Start(m.ctx, fetcher, instance, func(res Result) {
		m.mu.Lock()
		if m.sessions[key] == s {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
		if onDone != nil {
			onDone(res)
		}
	})
	m.sessions[key] = s
	return s
}

// Stop cancels the session for key. Stopping a key with no session returns
// ErrNotRunning and has no other effect.
func (m *Manager) Stop(key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	s.Stop()
	return nil
}

// Active reports whether a session is running for key.
func (m *Manager) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
