package rest

import (
	"time"

	"github.com/kasuganosora/questforge/server/game/quest"
)

// ObjectiveView is one objective of a template as served to clients.
type ObjectiveView struct {
	ID          string              `json:"id"`
	Type        quest.ObjectiveType `json:"type"`
	Target      string              `json:"target,omitempty"`
	NPC         string              `json:"npc,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Required    int                 `json:"required"`
	Description string              `json:"description"`
}

// TemplateView is a quest definition as served to clients.
type TemplateView struct {
	ID            quest.QuestID   `json:"id"`
	Name          string          `json:"name"`
	Category      quest.Category  `json:"category"`
	Sequential    bool            `json:"sequential"`
	Repeatable    bool            `json:"repeatable"`
	Daily         bool            `json:"daily"`
	Cooldown      string          `json:"cooldown,omitempty"`
	MinLevel      int             `json:"min_level,omitempty"`
	MaxLevel      int             `json:"max_level,omitempty"`
	Prerequisites []quest.QuestID `json:"prerequisites,omitempty"`
	Objectives    []ObjectiveView `json:"objectives"`
	Reward        quest.Reward    `json:"reward"`
}

// ObjectiveProgressView pairs an objective counter with its description.
type ObjectiveProgressView struct {
	quest.ObjectiveProgress
	Description string `json:"description"`
	Complete    bool   `json:"complete"`
	Unlocked    bool   `json:"unlocked"`
}

// ProgressView is a quest instance with ordered objectives and percentage.
type ProgressView struct {
	InstanceID  string                  `json:"instance_id"`
	QuestID     quest.QuestID           `json:"quest_id"`
	Name        string                  `json:"name"`
	Status      quest.QuestStatus       `json:"status"`
	Percentage  int                     `json:"percentage"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	AvailableAt *time.Time              `json:"available_at,omitempty"`
	Objectives  []ObjectiveProgressView `json:"objectives"`
}

type viewer struct {
	desc quest.Describer
}

func (v viewer) describe(id quest.QuestID, o quest.Objective, locale string) string {
	if v.desc == nil {
		if o.Label != "" {
			return o.Label
		}
		return o.ID
	}
	return v.desc.Describe(id, o, locale)
}

func (v viewer) template(t *quest.Template, locale string) TemplateView {
	out := TemplateView{
		ID:            t.ID,
		Name:          t.Name,
		Category:      t.Category,
		Sequential:    t.Sequential,
		Repeatable:    t.Repeatable,
		Daily:         t.Daily,
		MinLevel:      t.MinLevel,
		MaxLevel:      t.MaxLevel,
		Prerequisites: t.Prerequisites,
		Objectives:    make([]ObjectiveView, len(t.Objectives)),
		Reward:        t.Reward,
	}
	if t.Cooldown > 0 {
		out.Cooldown = t.Cooldown.String()
	}
	for i, o := range t.Objectives {
		out.Objectives[i] = ObjectiveView{
			ID:          o.ID,
			Type:        o.Type,
			Target:      o.Target.Entity,
			NPC:         o.Target.NPC,
			Currency:    o.Target.Currency,
			Required:    o.Required,
			Description: v.describe(t.ID, o, locale),
		}
	}
	return out
}

func (v viewer) templates(ts []*quest.Template, locale string) []TemplateView {
	out := make([]TemplateView, len(ts))
	for i, t := range ts {
		out[i] = v.template(t, locale)
	}
	return out
}

// progress renders pr in objective order. t may be nil when the template
// has been retired, in which case descriptions fall back to ids.
func (v viewer) progress(t *quest.Template, pr *quest.Progress, locale string) ProgressView {
	out := ProgressView{
		InstanceID:  pr.InstanceID,
		QuestID:     pr.QuestID,
		Status:      pr.Status,
		Percentage:  pr.Percentage(),
		StartedAt:   pr.StartedAt,
		CompletedAt: pr.CompletedAt,
		AvailableAt: pr.AvailableAt,
		Objectives:  make([]ObjectiveProgressView, 0, len(pr.Order)),
	}
	if t != nil {
		out.Name = t.Name
	}
	for _, id := range pr.Order {
		op, ok := pr.Objectives[id]
		if !ok {
			continue
		}
		desc := id
		if t != nil {
			if o, ok := t.Objective(id); ok {
				desc = v.describe(t.ID, o, locale)
			}
		}
		out.Objectives = append(out.Objectives, ObjectiveProgressView{
			ObjectiveProgress: *op,
			Description:       desc,
			Complete:          op.Complete(),
			Unlocked:          op.ActivatedAt != nil,
		})
	}
	return out
}
