package hook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// Handler reacts to one engine notice.
type Handler func(ctx context.Context, n quest.Notice) error

type hookEntry struct {
	priority int
	fn       Handler
	name     string
}

// Center fans engine notices out to named handlers in priority order.
// It implements quest.NoticeDispatcher.
type Center struct {
	mu     sync.RWMutex
	hooks  map[quest.NoticeKind][]*hookEntry
	logger *zap.Logger
}

// NewCenter creates an empty Center.
func NewCenter(logger *zap.Logger) *Center {
	return &Center{hooks: make(map[quest.NoticeKind][]*hookEntry), logger: logger}
}

// Register adds fn for kind with the given priority (lower runs first).
// name is used for Unregister.
func (c *Center) Register(kind quest.NoticeKind, priority int, name string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.hooks[kind]
	entries = append(entries, &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	c.hooks[kind] = entries
}

// RegisterAll adds fn for every notice kind.
func (c *Center) RegisterAll(priority int, name string, fn Handler) {
	for _, k := range []quest.NoticeKind{
		quest.NoticeQuestAccepted,
		quest.NoticeObjectiveCompleted,
		quest.NoticeQuestCompleted,
		quest.NoticeQuestAbandoned,
	} {
		c.Register(k, priority, name, fn)
	}
}

// Unregister removes all handlers with the given name for kind.
func (c *Center) Unregister(kind quest.NoticeKind, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[kind] = without(c.hooks[kind], name)
}

// UnregisterAll removes all handlers registered with the given name.
func (c *Center) UnregisterAll(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for kind, entries := range c.hooks {
		c.hooks[kind] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	return entries[:n]
}

// Handlers lists the handler names for kind in run order.
func (c *Center) Handlers(kind quest.NoticeKind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.hooks[kind]))
	for _, e := range c.hooks[kind] {
		names = append(names, e.name)
	}
	return names
}

// Dispatch runs every handler for n.Kind except those named in skip and
// returns the names of the handlers that succeeded. A failing handler does
// not stop the ones after it; all failures are joined into the returned error.
func (c *Center) Dispatch(ctx context.Context, n quest.Notice, skip []string) ([]string, error) {
	c.mu.RLock()
	entries := make([]*hookEntry, len(c.hooks[n.Kind]))
	copy(entries, c.hooks[n.Kind])
	c.mu.RUnlock()

	var (
		delivered []string
		errs      []error
	)
	for _, e := range entries {
		if slices.Contains(skip, e.name) {
			continue
		}
		if err := c.run(ctx, e, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		delivered = append(delivered, e.name)
	}
	return delivered, errors.Join(errs...)
}

func (c *Center) run(ctx context.Context, e *hookEntry, n quest.Notice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notice handler panic",
				zap.String("handler", e.name),
				zap.String("kind", string(n.Kind)),
				zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(ctx, n)
}
