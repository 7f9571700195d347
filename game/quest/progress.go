package quest

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// QuestStatus is the lifecycle state of one quest instance.
type QuestStatus string

const (
	QuestStatusActive     QuestStatus = "active"
	QuestStatusCompleted  QuestStatus = "completed"
	QuestStatusOnCooldown QuestStatus = "on_cooldown"
)

// ObjectiveProgress is the per-player counter for one objective.
// Invariant: 0 <= Current <= Required.
type ObjectiveProgress struct {
	ObjectiveID string     `json:"objective_id"`
	Current     int        `json:"current"`
	Required    int        `json:"required"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Complete reports whether the objective has reached its requirement.
func (op *ObjectiveProgress) Complete() bool {
	return op.Current >= op.Required
}

// Fraction is min(current/required, 1).
func (op *ObjectiveProgress) Fraction() float64 {
	if op.Required <= 0 {
		return 1
	}
	return math.Min(float64(op.Current)/float64(op.Required), 1)
}

// advance adds n, discarding any surplus over Required. It reports whether
// this call completed the objective.
func (op *ObjectiveProgress) advance(n int, now time.Time) bool {
	if n <= 0 || op.Complete() {
		return false
	}
	op.Current = min(op.Current+n, op.Required)
	if op.Complete() && op.CompletedAt == nil {
		t := now
		op.CompletedAt = &t
		return true
	}
	return false
}

func (op *ObjectiveProgress) activate(now time.Time) {
	if op.ActivatedAt == nil {
		t := now
		op.ActivatedAt = &t
	}
}

// restart zeroes an incomplete objective and restarts its clock.
func (op *ObjectiveProgress) restart(now time.Time) {
	op.Current = 0
	t := now
	op.ActivatedAt = &t
}

// Progress tracks one accepted instance of a quest for one player.
type Progress struct {
	InstanceID  string                        `json:"instance_id"`
	QuestID     QuestID                       `json:"quest_id"`
	PlayerID    string                        `json:"player_id"`
	Status      QuestStatus                   `json:"status"`
	Order       []string                      `json:"order"`
	Objectives  map[string]*ObjectiveProgress `json:"objectives"`
	StartedAt   time.Time                     `json:"started_at"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
	AvailableAt *time.Time                    `json:"available_at,omitempty"`
}

// NewProgress creates a fresh Active instance with every objective at zero.
func NewProgress(t *Template, playerID string, now time.Time) *Progress {
	p := &Progress{
		InstanceID: uuid.NewString(),
		QuestID:    t.ID,
		PlayerID:   playerID,
		Status:     QuestStatusActive,
		Order:      make([]string, len(t.Objectives)),
		Objectives: make(map[string]*ObjectiveProgress, len(t.Objectives)),
		StartedAt:  now,
	}
	for i, o := range t.Objectives {
		p.Order[i] = o.ID
		p.Objectives[o.ID] = &ObjectiveProgress{ObjectiveID: o.ID, Required: o.Required}
	}
	p.activate(t, now)
	return p
}

// Active reports whether the instance still accepts progress.
func (p *Progress) Active() bool {
	return p.Status == QuestStatusActive
}

// Objective returns the progress entry for objectiveID.
func (p *Progress) Objective(objectiveID string) (*ObjectiveProgress, bool) {
	op, ok := p.Objectives[objectiveID]
	return op, ok
}

// AllComplete reports whether every objective has reached its requirement.
func (p *Progress) AllComplete() bool {
	for _, id := range p.Order {
		op, ok := p.Objectives[id]
		if !ok || !op.Complete() {
			return false
		}
	}
	return len(p.Order) > 0
}

// Percentage is round-half-up(100 * sum(fraction) / objectiveCount). It is
// recomputed on every call and never stored.
func (p *Progress) Percentage() int {
	if len(p.Order) == 0 {
		return 0
	}
	var sum float64
	for _, id := range p.Order {
		if op, ok := p.Objectives[id]; ok {
			sum += op.Fraction()
		}
	}
	return int(math.Floor(100*sum/float64(len(p.Order)) + 0.5))
}

// candidates returns the objectives currently accepting progress: the first
// incomplete one for sequential quests, every incomplete one otherwise.
func (p *Progress) candidates(t *Template) []Objective {
	out := make([]Objective, 0, len(t.Objectives))
	for _, o := range t.Objectives {
		op, ok := p.Objectives[o.ID]
		if !ok || op.Complete() {
			continue
		}
		out = append(out, o)
		if t.Sequential {
			break
		}
	}
	return out
}

// activate starts the clock on every current candidate objective.
func (p *Progress) activate(t *Template, now time.Time) {
	for _, o := range p.candidates(t) {
		p.Objectives[o.ID].activate(now)
	}
}

// Clone returns a deep copy safe to hand to readers.
func (p *Progress) Clone() *Progress {
	cp := *p
	cp.Order = append([]string(nil), p.Order...)
	cp.Objectives = make(map[string]*ObjectiveProgress, len(p.Objectives))
	for id, op := range p.Objectives {
		o := *op
		cp.Objectives[id] = &o
	}
	return &cp
}

// ObjectiveProgressOf is the read-only accessor used by presentation code.
func ObjectiveProgressOf(p *Progress, objectiveID string) (ObjectiveProgress, bool) {
	op, ok := p.Objectives[objectiveID]
	if !ok {
		return ObjectiveProgress{}, false
	}
	return *op, true
}

// CompletionPercentage is the read-only accessor used by presentation code.
func CompletionPercentage(p *Progress) int {
	return p.Percentage()
}

// CompletionRecord summarises every completion of one quest by one player.
type CompletionRecord struct {
	QuestID          QuestID   `json:"quest_id"`
	Count            int       `json:"count"`
	FirstCompletedAt time.Time `json:"first_completed_at"`
	LastCompletedAt  time.Time `json:"last_completed_at"`
}

// PlayerState is everything the engine persists for one player.
type PlayerState struct {
	PlayerID string                        `json:"player_id"`
	Quests   map[QuestID]*Progress         `json:"quests"`
	History  map[QuestID]*CompletionRecord `json:"history"`
	Outbox   []Notice                      `json:"outbox,omitempty"`
	Version  int64                         `json:"version"`

	// Delivered names the handlers that already accepted an outbox notice,
	// keyed by Notice.Key.
	Delivered map[string][]string `json:"delivered,omitempty"`
	// RecentEvents holds the latest event ids that changed this state.
	RecentEvents []string `json:"recent_events,omitempty"`

	dirty bool
}

// NewPlayerState returns an empty state for playerID.
func NewPlayerState(playerID string) *PlayerState {
	return &PlayerState{
		PlayerID: playerID,
		Quests:   make(map[QuestID]*Progress),
		History:  make(map[QuestID]*CompletionRecord),
	}
}

// Dirty reports whether the state changed since it was loaded.
func (st *PlayerState) Dirty() bool { return st.dirty }

func (st *PlayerState) markDirty() { st.dirty = true }

// HasCompleted reports whether the quest was completed at least once.
func (st *PlayerState) HasCompleted(id QuestID) bool {
	_, ok := st.History[id]
	return ok
}

// ActiveQuests returns active instances ordered by quest id.
func (st *PlayerState) ActiveQuests() []*Progress {
	out := make([]*Progress, 0, len(st.Quests))
	for _, p := range st.Quests {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestID < out[j].QuestID })
	return out
}

// CompletedQuests returns completion records ordered by last completion.
func (st *PlayerState) CompletedQuests() []CompletionRecord {
	out := make([]CompletionRecord, 0, len(st.History))
	for _, r := range st.History {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastCompletedAt.Equal(out[j].LastCompletedAt) {
			return out[i].QuestID < out[j].QuestID
		}
		return out[i].LastCompletedAt.Before(out[j].LastCompletedAt)
	})
	return out
}

func (st *PlayerState) recordCompletion(id QuestID, now time.Time) {
	r, ok := st.History[id]
	if !ok {
		r = &CompletionRecord{QuestID: id, FirstCompletedAt: now}
		st.History[id] = r
	}
	r.Count++
	r.LastCompletedAt = now
}

// ackNotices removes delivered notices from the outbox.
func (st *PlayerState) ackNotices(keys []string) bool {
	if len(keys) == 0 || len(st.Outbox) == 0 {
		return false
	}
	done := make(map[string]bool, len(keys))
	for _, k := range keys {
		done[k] = true
	}
	kept := st.Outbox[:0]
	for _, n := range st.Outbox {
		if !done[n.Key()] {
			kept = append(kept, n)
		}
	}
	changed := len(kept) != len(st.Outbox)
	st.Outbox = kept
	for _, k := range keys {
		if _, ok := st.Delivered[k]; ok {
			delete(st.Delivered, k)
			changed = true
		}
	}
	if changed {
		st.markDirty()
	}
	return changed
}

func (st *PlayerState) inOutbox(key string) bool {
	for _, n := range st.Outbox {
		if n.Key() == key {
			return true
		}
	}
	return false
}

// markDelivered adds handler names to an outbox notice's delivered set.
// Notices no longer in the outbox are ignored.
func (st *PlayerState) markDelivered(key string, names []string) {
	if len(names) == 0 || !st.inOutbox(key) {
		return
	}
	if st.Delivered == nil {
		st.Delivered = make(map[string][]string)
	}
	have := st.Delivered[key]
	for _, name := range names {
		if !slices.Contains(have, name) {
			have = append(have, name)
			st.markDirty()
		}
	}
	st.Delivered[key] = have
}

// recentEventLimit bounds RecentEvents; older ids fall back to the deduper.
const recentEventLimit = 64

func (st *PlayerState) seenEvent(id string) bool {
	return slices.Contains(st.RecentEvents, id)
}

func (st *PlayerState) rememberEvent(id string) {
	st.RecentEvents = append(st.RecentEvents, id)
	if over := len(st.RecentEvents) - recentEventLimit; over > 0 {
		st.RecentEvents = append([]string(nil), st.RecentEvents[over:]...)
	}
	st.markDirty()
}
