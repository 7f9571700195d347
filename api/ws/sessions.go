package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sessions is the registry of connected event sources.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewSessions creates an empty registry.
func NewSessions(logger *zap.Logger) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds s to the registry.
func (m *Sessions) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("ingest session registered",
		zap.String("session_id", s.ID),
		zap.String("subject", s.Subject),
		zap.Int("connected", n))
}

// Unregister removes the session with the given id.
func (m *Sessions) Unregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("ingest session unregistered", zap.String("session_id", id))
}

// Count returns the number of connected sessions.
func (m *Sessions) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns session snapshots ordered by connect time.
func (m *Sessions) List() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every session and waits until the read loops have
// unregistered them or ctx ends.
func (m *Sessions) CloseAll(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	m.logger.Info("closing ingest sessions", zap.Int("count", len(all)))
	for _, s := range all {
		s.Close()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for m.Count() > 0 {
		select {
		case <-ctx.Done():
			m.logger.Warn("ingest sessions still open at shutdown", zap.Int("count", m.Count()))
			return
		case <-ticker.C:
		}
	}
}
