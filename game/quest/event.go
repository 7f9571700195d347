package quest

import (
	"fmt"
	"time"
)

// EventType identifies a game event forwarded by the event source.
type EventType string

const (
	EventInteract    EventType = "interact"
	EventKill        EventType = "kill"
	EventCollect     EventType = "collect"
	EventCraft       EventType = "craft"
	EventDeliver     EventType = "deliver"
	EventVisit       EventType = "visit"
	EventSurviveTick EventType = "survive_tick" // Quantity = seconds survived since the previous tick
	EventSurviveFail EventType = "survive_fail" // fatal damage or logout
	EventFish        EventType = "fish"
	EventPlace       EventType = "place"
	EventBreak       EventType = "break"
	EventHarvest     EventType = "harvest"
	EventPay         EventType = "pay"
)

var eventTypes = map[EventType]struct{}{
	EventInteract: {}, EventKill: {}, EventCollect: {}, EventCraft: {},
	EventDeliver: {}, EventVisit: {}, EventSurviveTick: {}, EventSurviveFail: {},
	EventFish: {}, EventPlace: {}, EventBreak: {}, EventHarvest: {}, EventPay: {},
}

// ParseEventType validates s as a known event type.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if _, ok := eventTypes[et]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return et, nil
}

// Event is the minimal (type, data) part of a game notification; the player
// is passed alongside it.
type Event struct {
	ID       string    `json:"id,omitempty"` // optional, used for replay dedupe
	Type     EventType `json:"type"`
	Target   string    `json:"target,omitempty"`   // mob, item, NPC tag, location, block, crop, fish
	NPC      string    `json:"npc,omitempty"`      // delivery recipient
	Currency string    `json:"currency,omitempty"` // pay events
	Quantity int       `json:"quantity,omitempty"` // stack size, amount paid, seconds survived
	At       time.Time `json:"at,omitempty"`
}
