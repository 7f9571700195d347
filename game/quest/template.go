package quest

import (
	"fmt"
	"time"
)

// QuestID is an opaque, stable quest identifier.
type QuestID string

// Category is a presentation/grouping tag.
type Category string

const (
	CategoryMain     Category = "main"
	CategorySide     Category = "side"
	CategoryDaily    Category = "daily"
	CategoryEvent    Category = "event"
	CategoryTutorial Category = "tutorial"
)

// ParseCategory falls back to side quests for unknown or empty tags.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryMain, CategorySide, CategoryDaily, CategoryEvent, CategoryTutorial:
		return c
	default:
		return CategorySide
	}
}

// CurrencyAmount is a single currency reward entry.
type CurrencyAmount struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// RewardItem is a single item reward entry.
type RewardItem struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// Reward is what a completed quest pays out.
type Reward struct {
	Exp      int64            `json:"exp,omitempty"`
	Currency []CurrencyAmount `json:"currency,omitempty"`
	Items    []RewardItem     `json:"items,omitempty"`
}

// Empty reports whether the reward grants nothing.
func (r Reward) Empty() bool {
	return r.Exp == 0 && len(r.Currency) == 0 && len(r.Items) == 0
}

// Template is an immutable quest definition. Templates are plain data; the
// only behaviour lives in the objective types.
type Template struct {
	ID            QuestID       `json:"id"`
	Name          string        `json:"name"`
	Category      Category      `json:"category"`
	Objectives    []Objective   `json:"objectives"`
	Sequential    bool          `json:"sequential"`
	Reward        Reward        `json:"reward"`
	MinLevel      int           `json:"min_level,omitempty"`
	MaxLevel      int           `json:"max_level,omitempty"` // 0 = unbounded
	Repeatable    bool          `json:"repeatable"`
	Daily         bool          `json:"daily"`
	Cooldown      time.Duration `json:"cooldown,omitempty"` // rolling window for non-daily repeatables
	Prerequisites []QuestID     `json:"prerequisites,omitempty"`
}

// Validate checks the template in isolation. Prerequisite edges are checked
// by the catalog.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTemplate)
	}
	if len(t.Objectives) == 0 {
		return fmt.Errorf("%w: %s: no objectives", ErrInvalidTemplate, t.ID)
	}
	seen := make(map[string]bool, len(t.Objectives))
	for _, o := range t.Objectives {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("quest %s: %w", t.ID, err)
		}
		if seen[o.ID] {
			return fmt.Errorf("%w: %s: duplicate objective id %q", ErrInvalidTemplate, t.ID, o.ID)
		}
		seen[o.ID] = true
	}
	if t.Daily && !t.Repeatable {
		return fmt.Errorf("%w: %s: daily quests must be repeatable", ErrInvalidTemplate, t.ID)
	}
	if t.MinLevel < 0 || t.MaxLevel < 0 {
		return fmt.Errorf("%w: %s: negative level bound", ErrInvalidTemplate, t.ID)
	}
	if t.MaxLevel > 0 && t.MinLevel > t.MaxLevel {
		return fmt.Errorf("%w: %s: min_level %d > max_level %d", ErrInvalidTemplate, t.ID, t.MinLevel, t.MaxLevel)
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("%w: %s: negative cooldown", ErrInvalidTemplate, t.ID)
	}
	for _, p := range t.Prerequisites {
		if p == t.ID {
			return fmt.Errorf("%w: %s requires itself", ErrCyclicPrerequisite, t.ID)
		}
	}
	return nil
}

// Objective returns the objective with the given id.
func (t *Template) Objective(id string) (Objective, bool) {
	for _, o := range t.Objectives {
		if o.ID == id {
			return o, true
		}
	}
	return Objective{}, false
}

// eventTypes lists every event type that can change this quest's progress.
func (t *Template) eventTypes() []EventType {
	seen := make(map[EventType]bool)
	out := make([]EventType, 0, len(t.Objectives)+1)
	add := func(et EventType) {
		if !seen[et] {
			seen[et] = true
			out = append(out, et)
		}
	}
	for _, o := range t.Objectives {
		add(o.Type.EventType())
		if o.Type == ObjectiveSurvive {
			add(EventSurviveFail)
		}
	}
	return out
}
