package player

import (
	"sync"

	"go.uber.org/zap"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out one mutex per player. Entries exist only while someone
// holds or waits for them, so the map stays as small as the set of players
// with in-flight work.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	logger  *zap.Logger
}

// NewLocks creates an empty lock table.
func NewLocks(logger *zap.Logger) *Locks {
	return &Locks{
		entries: make(map[string]*lockEntry),
		logger:  logger,
	}
}

// Lock blocks until the caller owns playerID's section and returns the
// function that releases it. The returned func must be called exactly once.
func (l *Locks) Lock(playerID string) func() {
	l.mu.Lock()
	e, ok := l.entries[playerID]
	if !ok {
		e = &lockEntry{}
		l.entries[playerID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, playerID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of players with in-flight work.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Held reports whether playerID currently has an entry.
func (l *Locks) Held(playerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[playerID]
	return ok
}
