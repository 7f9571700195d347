package quest

import (
	"time"
)

// Player is the slice of player data eligibility depends on.
type Player struct {
	ID    string `json:"player_id"`
	Level int    `json:"level"`
}

// CheckEligibility returns nil when p may accept id now, otherwise an
// *EligibilityError (or ErrUnknownQuest). It never mutates st.
func (c *Catalog) CheckEligibility(p Player, st *PlayerState, id QuestID, now time.Time) error {
	t, err := c.Resolve(id)
	if err != nil {
		return err
	}

	if pr, ok := st.Quests[id]; ok {
		switch pr.Status {
		case QuestStatusActive:
			return denied(id, ReasonAlreadyActive)
		case QuestStatusCompleted, QuestStatusOnCooldown:
			at, repeatable := c.availableAt(t, pr)
			if !repeatable {
				return denied(id, ReasonNotEligible)
			}
			if now.Before(at) {
				return &EligibilityError{QuestID: id, Reason: ReasonOnCooldown, AvailableAt: &at}
			}
		}
	}
	if !t.Repeatable && st.HasCompleted(id) {
		return denied(id, ReasonNotEligible)
	}

	if t.MinLevel > 0 && p.Level < t.MinLevel {
		return denied(id, ReasonLevelTooLow)
	}
	if t.MaxLevel > 0 && p.Level > t.MaxLevel {
		return denied(id, ReasonLevelTooHigh)
	}

	var missing []QuestID
	for _, pre := range t.Prerequisites {
		if !st.HasCompleted(pre) {
			missing = append(missing, pre)
		}
	}
	if len(missing) > 0 {
		return &EligibilityError{QuestID: id, Reason: ReasonPrerequisiteMissing, Missing: missing}
	}
	return nil
}

// IsEligible is the boolean form of CheckEligibility.
func (c *Catalog) IsEligible(p Player, st *PlayerState, id QuestID, now time.Time) bool {
	return c.CheckEligibility(p, st, id, now) == nil
}

// Available returns every template p could accept right now.
func (c *Catalog) Available(p Player, st *PlayerState, now time.Time) []*Template {
	out := make([]*Template, 0)
	for _, t := range c.All() {
		if c.IsEligible(p, st, t.ID, now) {
			out = append(out, t)
		}
	}
	return out
}

// NextAvailable returns when a completed or cooling-down quest can be taken
// again. ok is false when the quest is not blocked by a cooldown.
func (c *Catalog) NextAvailable(st *PlayerState, id QuestID) (time.Time, bool) {
	pr, ok := st.Quests[id]
	if !ok || pr.Active() {
		return time.Time{}, false
	}
	t, err := c.Resolve(id)
	if err != nil {
		return time.Time{}, false
	}
	return c.availableAt(t, pr)
}

func (c *Catalog) availableAt(t *Template, pr *Progress) (time.Time, bool) {
	if pr.AvailableAt != nil {
		return *pr.AvailableAt, true
	}
	if pr.CompletedAt == nil {
		return time.Time{}, false
	}
	return c.reset.AvailableAt(t, *pr.CompletedAt)
}

// Refresh performs the lazy reset transitions on st: completed repeatable
// instances move to cooldown, and cooldowns that have elapsed are discarded
// so the quest can be accepted again. It reports whether st changed.
func (c *Catalog) Refresh(st *PlayerState, now time.Time) bool {
	changed := false
	for id, pr := range st.Quests {
		t, err := c.Resolve(id)
		if err != nil || !t.Repeatable {
			continue
		}
		if pr.Status == QuestStatusCompleted {
			if at, ok := c.availableAt(t, pr); ok {
				pr.Status = QuestStatusOnCooldown
				pr.AvailableAt = &at
				changed = true
			}
		}
		if pr.Status == QuestStatusOnCooldown && pr.AvailableAt != nil && !now.Before(*pr.AvailableAt) {
			delete(st.Quests, id)
			changed = true
		}
	}
	if changed {
		st.markDirty()
	}
	return changed
}
