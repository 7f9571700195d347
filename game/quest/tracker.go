package quest

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// NoticeKind classifies engine notifications.
type NoticeKind string

const (
	NoticeQuestCompleted     NoticeKind = "quest_completed"
	NoticeObjectiveCompleted NoticeKind = "objective_completed"
	NoticeQuestAccepted      NoticeKind = "quest_accepted"
	NoticeQuestAbandoned     NoticeKind = "quest_abandoned"
)

// Notice is emitted by the engine for collaborators (rewards, UI, audit).
// Only quest_completed notices carry a reward and are kept in the outbox
// until delivered.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	PlayerID    string     `json:"player_id"`
	QuestID     QuestID    `json:"quest_id"`
	InstanceID  string     `json:"instance_id"`
	ObjectiveID string     `json:"objective_id,omitempty"`
	Reward      *Reward    `json:"reward,omitempty"`
	At          time.Time  `json:"at"`
}

// Key identifies a notice; it is stable across redeliveries.
func (n Notice) Key() string {
	k := string(n.Kind) + ":" + n.InstanceID
	if n.ObjectiveID != "" {
		k += ":" + n.ObjectiveID
	}
	return k
}

// Tracker routes events into a player's active quests. It is pure with
// respect to I/O: callers load and save the PlayerState and consume the
// returned notices.
type Tracker struct {
	catalog *Catalog
	logger  *zap.Logger
}

// NewTracker creates a Tracker bound to a validated catalog.
func NewTracker(c *Catalog, logger *zap.Logger) *Tracker {
	return &Tracker{catalog: c, logger: logger}
}

// Apply feeds one event to every active quest of st. Sequential quests only
// offer their first incomplete objective; parallel quests offer every
// incomplete one. Surplus beyond an objective's requirement is discarded.
func (t *Tracker) Apply(st *PlayerState, ev Event, now time.Time) []Notice {
	var notices []Notice
	for _, pr := range st.ActiveQuests() {
		if !t.catalog.reacts(pr.QuestID, ev.Type) {
			continue
		}
		tpl, err := t.catalog.Resolve(pr.QuestID)
		if err != nil {
			continue
		}

		changed := false
		for _, o := range pr.candidates(tpl) {
			op := pr.Objectives[o.ID]
			if ev.Type == EventSurviveFail {
				if o.Type == ObjectiveSurvive {
					op.restart(now)
					changed = true
				}
				continue
			}
			if !o.Matches(ev) {
				continue
			}
			n := o.IncrementAmount(ev)
			if o.Type == ObjectiveSurvive {
				n = clampSurvive(n, op, now)
			}
			if n <= 0 {
				continue
			}
			before := op.Current
			if op.advance(n, now) {
				notices = append(notices, Notice{
					Kind:        NoticeObjectiveCompleted,
					PlayerID:    st.PlayerID,
					QuestID:     pr.QuestID,
					InstanceID:  pr.InstanceID,
					ObjectiveID: o.ID,
					At:          now,
				})
			}
			if op.Current != before {
				changed = true
			}
		}
		if !changed {
			continue
		}
		st.markDirty()

		if pr.AllComplete() {
			notices = append(notices, t.complete(st, pr, tpl, now))
			continue
		}
		// The next sequential step starts its clock now; the event that
		// finished the previous step is not re-applied to it.
		pr.activate(tpl, now)
	}
	return notices
}

// complete is the single Active -> Completed edge.
func (t *Tracker) complete(st *PlayerState, pr *Progress, tpl *Template, now time.Time) Notice {
	ts := now
	pr.Status = QuestStatusCompleted
	pr.CompletedAt = &ts
	st.recordCompletion(pr.QuestID, now)

	reward := tpl.Reward
	n := Notice{
		Kind:       NoticeQuestCompleted,
		PlayerID:   st.PlayerID,
		QuestID:    pr.QuestID,
		InstanceID: pr.InstanceID,
		Reward:     &reward,
		At:         now,
	}
	st.Outbox = append(st.Outbox, n)

	t.logger.Info("quest completed",
		zap.String("player_id", st.PlayerID),
		zap.String("quest_id", string(pr.QuestID)),
		zap.String("instance_id", pr.InstanceID))
	return n
}

// Prune drops progress entries that reference quests no longer in the
// catalog (stale persisted state). It returns the dropped ids.
func (t *Tracker) Prune(st *PlayerState) []QuestID {
	var dropped []QuestID
	for id := range st.Quests {
		if _, err := t.catalog.Resolve(id); err != nil {
			dropped = append(dropped, id)
		}
	}
	if len(dropped) == 0 {
		return nil
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	for _, id := range dropped {
		delete(st.Quests, id)
		t.logger.Warn("dropping progress for unknown quest",
			zap.String("player_id", st.PlayerID),
			zap.String("quest_id", string(id)))
	}
	st.markDirty()
	return dropped
}

// clampSurvive limits a survive tick to the active seconds not yet credited,
// so time survived before the objective started does not count.
func clampSurvive(n int, op *ObjectiveProgress, now time.Time) int {
	if op.ActivatedAt == nil {
		return 0
	}
	uncredited := int(now.Sub(*op.ActivatedAt)/time.Second) - op.Current
	return max(0, min(n, uncredited))
}
