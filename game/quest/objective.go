package quest

import (
	"fmt"
	"time"
)

// ObjectiveType categorizes a quest objective.
type ObjectiveType string

const (
	ObjectiveInteractNPC   ObjectiveType = "interact_npc"
	ObjectiveKillMob       ObjectiveType = "kill_mob"
	ObjectiveCollectItem   ObjectiveType = "collect_item"
	ObjectiveCraftItem     ObjectiveType = "craft_item"
	ObjectiveDeliverItem   ObjectiveType = "deliver_item"
	ObjectiveVisitLocation ObjectiveType = "visit_location"
	ObjectiveSurvive       ObjectiveType = "survive"
	ObjectiveFishing       ObjectiveType = "fishing"
	ObjectivePlaceBlock    ObjectiveType = "place_block"
	ObjectiveBreakBlock    ObjectiveType = "break_block"
	ObjectiveHarvest       ObjectiveType = "harvest"
	ObjectivePayCurrency   ObjectiveType = "pay_currency"
)

type kindRule struct {
	event    EventType
	boolean  bool // completes with a single event
	wildcard bool // empty Target.Entity matches anything
}

var kindRules = map[ObjectiveType]kindRule{
	ObjectiveInteractNPC:   {event: EventInteract, boolean: true},
	ObjectiveKillMob:       {event: EventKill, wildcard: true},
	ObjectiveCollectItem:   {event: EventCollect},
	ObjectiveCraftItem:     {event: EventCraft},
	ObjectiveDeliverItem:   {event: EventDeliver},
	ObjectiveVisitLocation: {event: EventVisit, boolean: true},
	ObjectiveSurvive:       {event: EventSurviveTick},
	ObjectiveFishing:       {event: EventFish, wildcard: true},
	ObjectivePlaceBlock:    {event: EventPlace, wildcard: true},
	ObjectiveBreakBlock:    {event: EventBreak, wildcard: true},
	ObjectiveHarvest:       {event: EventHarvest, wildcard: true},
	ObjectivePayCurrency:   {event: EventPay},
}

// Valid reports whether t is a known objective type.
func (t ObjectiveType) Valid() bool {
	_, ok := kindRules[t]
	return ok
}

// EventType returns the event that advances objectives of this type.
func (t ObjectiveType) EventType() EventType {
	return kindRules[t].event
}

// Boolean reports whether the objective is a once-only flag.
func (t ObjectiveType) Boolean() bool {
	return kindRules[t].boolean
}

// Target is the kind-specific descriptor of an objective.
type Target struct {
	Entity   string        `json:"entity,omitempty"`
	NPC      string        `json:"npc,omitempty"`
	Currency string        `json:"currency,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Objective describes one requirement within a quest. Objectives are values
// and never change after the catalog is loaded.
type Objective struct {
	ID       string        `json:"id"`
	Type     ObjectiveType `json:"type"`
	Target   Target        `json:"target"`
	Required int           `json:"required"`
	Label    string        `json:"label,omitempty"`
}

// Validate checks the objective in isolation.
func (o Objective) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidObjective)
	}
	rule, ok := kindRules[o.Type]
	if !ok {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidObjective, o.ID, o.Type)
	}
	if o.Required < 1 {
		return fmt.Errorf("%w: %s: required must be >= 1", ErrInvalidObjective, o.ID)
	}
	if rule.boolean && o.Required != 1 {
		return fmt.Errorf("%w: %s: %s is a once-only objective", ErrInvalidObjective, o.ID, o.Type)
	}

	switch o.Type {
	case ObjectiveSurvive:
		if o.Target.Duration < time.Second {
			return fmt.Errorf("%w: %s: survive needs a duration of at least 1s", ErrInvalidObjective, o.ID)
		}
		if o.Required != int(o.Target.Duration/time.Second) {
			return fmt.Errorf("%w: %s: required must equal the duration in seconds", ErrInvalidObjective, o.ID)
		}
	case ObjectivePayCurrency:
		if o.Target.Currency == "" {
			return fmt.Errorf("%w: %s: missing currency", ErrInvalidObjective, o.ID)
		}
	case ObjectiveDeliverItem:
		if o.Target.Entity == "" || o.Target.NPC == "" {
			return fmt.Errorf("%w: %s: delivery needs an item and an npc", ErrInvalidObjective, o.ID)
		}
	default:
		if !rule.wildcard && o.Target.Entity == "" {
			return fmt.Errorf("%w: %s: missing target", ErrInvalidObjective, o.ID)
		}
	}
	return nil
}

// Matches reports whether ev advances this objective. It has no side effects.
func (o Objective) Matches(ev Event) bool {
	rule, ok := kindRules[o.Type]
	if !ok || ev.Type != rule.event {
		return false
	}
	switch o.Type {
	case ObjectiveSurvive:
		return true
	case ObjectivePayCurrency:
		return ev.Currency == o.Target.Currency
	case ObjectiveDeliverItem:
		return ev.Target == o.Target.Entity && ev.NPC == o.Target.NPC
	}
	if rule.wildcard && o.Target.Entity == "" {
		return true
	}
	return ev.Target == o.Target.Entity
}

// IncrementAmount is how much progress one matching event contributes.
// Counting objectives honour the reported quantity (stack size); survive and
// payment objectives only advance by what the event actually reports.
func (o Objective) IncrementAmount(ev Event) int {
	switch {
	case o.Type.Boolean():
		return 1
	case o.Type == ObjectiveSurvive, o.Type == ObjectivePayCurrency:
		if ev.Quantity > 0 {
			return ev.Quantity
		}
		return 0
	case ev.Quantity > 1:
		return ev.Quantity
	default:
		return 1
	}
}

// Constructors used by data loaders and tests.

func InteractNPC(id, npc string) Objective {
	return Objective{ID: id, Type: ObjectiveInteractNPC, Target: Target{Entity: npc}, Required: 1}
}

func KillMob(id, mob string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveKillMob, Target: Target{Entity: mob}, Required: count}
}

func CollectItem(id, item string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveCollectItem, Target: Target{Entity: item}, Required: count}
}

func CraftItem(id, item string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveCraftItem, Target: Target{Entity: item}, Required: count}
}

func DeliverItem(id, item, npc string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveDeliverItem, Target: Target{Entity: item, NPC: npc}, Required: count}
}

func VisitLocation(id, location string) Objective {
	return Objective{ID: id, Type: ObjectiveVisitLocation, Target: Target{Entity: location}, Required: 1}
}

func Survive(id string, d time.Duration) Objective {
	return Objective{ID: id, Type: ObjectiveSurvive, Target: Target{Duration: d}, Required: int(d / time.Second)}
}

func PayCurrency(id, currency string, amount int) Objective {
	return Objective{ID: id, Type: ObjectivePayCurrency, Target: Target{Currency: currency}, Required: amount}
}

func Fishing(id, fish string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveFishing, Target: Target{Entity: fish}, Required: count}
}

func PlaceBlock(id, block string, count int) Objective {
	return Objective{ID: id, Type: ObjectivePlaceBlock, Target: Target{Entity: block}, Required: count}
}

func BreakBlock(id, block string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveBreakBlock, Target: Target{Entity: block}, Required: count}
}

func Harvest(id, crop string, count int) Objective {
	return Objective{ID: id, Type: ObjectiveHarvest, Target: Target{Entity: crop}, Required: count}
}
