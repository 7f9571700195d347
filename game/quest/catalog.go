package quest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog holds all loaded quest templates. Templates are registered during
// startup, then Validate freezes the catalog; after that it is read-only.
type Catalog struct {
	mu         sync.RWMutex
	templates  map[QuestID]*Template
	byEvent    map[EventType]map[QuestID]bool // event type -> quests that react to it
	dependents map[QuestID][]QuestID          // prerequisite -> quests unlocked by it
	reset      ResetPolicy
	frozen     bool
}

// NewCatalog creates an empty catalog using rp for cooldown computation.
func NewCatalog(rp ResetPolicy) *Catalog {
	return &Catalog{
		templates:  make(map[QuestID]*Template),
		byEvent:    make(map[EventType]map[QuestID]bool),
		dependents: make(map[QuestID][]QuestID),
		reset:      rp,
	}
}

// ResetPolicy returns the daily boundary policy of the catalog.
func (c *Catalog) ResetPolicy() ResetPolicy {
	return c.reset
}

// Register adds a template. The catalog keeps its own copy.
func (c *Catalog) Register(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrCatalogFrozen, t.ID)
	}
	if _, exists := c.templates[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateQuestID, t.ID)
	}

	cp := *t
	cp.Objectives = append([]Objective(nil), t.Objectives...)
	cp.Prerequisites = append([]QuestID(nil), t.Prerequisites...)
	cp.Reward.Currency = append([]CurrencyAmount(nil), t.Reward.Currency...)
	cp.Reward.Items = append([]RewardItem(nil), t.Reward.Items...)
	c.templates[cp.ID] = &cp

	for _, et := range cp.eventTypes() {
		if c.byEvent[et] == nil {
			c.byEvent[et] = make(map[QuestID]bool)
		}
		c.byEvent[et][cp.ID] = true
	}
	for _, p := range cp.Prerequisites {
		c.dependents[p] = append(c.dependents[p], cp.ID)
	}
	return nil
}

// Resolve returns the template for id.
func (c *Catalog) Resolve(id QuestID) (*Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuest, id)
	}
	return t, nil
}

// Validate checks every prerequisite edge and rejects cycles. It must run once
// after all templates are registered.
func (c *Catalog) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.sortedIDs()
	for _, id := range ids {
		for _, p := range c.templates[id].Prerequisites {
			if _, ok := c.templates[p]; !ok {
				return fmt.Errorf("%w: %s requires %s", ErrDanglingPrerequisite, id, p)
			}
		}
	}

	const (
		white = iota // unvisited
		grey         // on the DFS stack
		black        // fully explored
	)
	color := make(map[QuestID]int, len(ids))
	var stack []QuestID

	var visit func(id QuestID) error
	visit = func(id QuestID) error {
		color[id] = grey
		stack = append(stack, id)
		for _, p := range c.templates[id].Prerequisites {
			switch color[p] {
			case grey:
				return fmt.Errorf("%w: %s", ErrCyclicPrerequisite, cyclePath(stack, p))
			case white:
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	c.frozen = true
	return nil
}

func cyclePath(stack []QuestID, back QuestID) string {
	start := 0
	for i, id := range stack {
		if id == back {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(stack)-start+1)
	for _, id := range stack[start:] {
		parts = append(parts, string(id))
	}
	parts = append(parts, string(back))
	return strings.Join(parts, " -> ")
}

// must be called with c.mu held.
func (c *Catalog) sortedIDs() []QuestID {
	ids := make([]QuestID, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns every template ordered by id.
func (c *Catalog) All() []*Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.sortedIDs()
	out := make([]*Template, len(ids))
	for i, id := range ids {
		out[i] = c.templates[id]
	}
	return out
}

// ByCategory returns the templates tagged with cat, ordered by id.
func (c *Catalog) ByCategory(cat Category) []*Template {
	out := make([]*Template, 0)
	for _, t := range c.All() {
		if t.Category == cat {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of registered templates.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// Dependents returns the quests that list id as a prerequisite.
func (c *Catalog) Dependents(id QuestID) []QuestID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]QuestID(nil), c.dependents[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Interested returns the quests whose progress can change on an event of type et.
func (c *Catalog) Interested(et EventType) []QuestID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]QuestID, 0, len(c.byEvent[et]))
	for id := range c.byEvent[et] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) reacts(id QuestID, et EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byEvent[et][id]
}
