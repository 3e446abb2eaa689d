package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager is the process-wide session registry. Sessions are owned
// exclusively by the registry; callers reference them by id only. The map is
// guarded for concurrent access by independent sessions, while ordering
// within one session is the session's own job.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create builds a session, runs its initialization, and registers it under a
// fresh id. Initialization failure aborts creation entirely; the session's
// Init has already cleaned up its servers at that point.
func (m *Manager) Create(ctx context.Context, opts Options) (*Session, error) {
	id := uuid.NewString()
	sess := New(id, opts)
	if err := sess.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize chat session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	log.Info().Str("session", id).Bool("stream", opts.Stream).Msg("session created")
	return sess, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Remove tears down a session and drops it from the registry.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	sess.Cleanup(ctx)
	log.Info().Str("session", id).Msg("session removed")
	return true
}

// Shutdown tears down every registered session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, sess := range sessions {
		sess.Cleanup(ctx)
		log.Debug().Str("session", id).Msg("session cleaned up during shutdown")
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
