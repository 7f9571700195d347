package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// EventApplier is the part of quest.Service the ingest socket drives.
type EventApplier interface {
	Apply(ctx context.Context, playerID string, ev quest.Event) ([]quest.Notice, error)
}

// QuestEventPayload is the body of a quest_event packet.
type QuestEventPayload struct {
	PlayerID string      `json:"player_id"`
	Event    quest.Event `json:"event"`
}

// QuestNoticesPayload answers a quest_event packet.
type QuestNoticesPayload struct {
	PlayerID  string         `json:"player_id"`
	EventID   string         `json:"event_id,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Notices   []quest.Notice `json:"notices"`
}

// RegisterQuestHandlers binds the quest packet types to svc.
func RegisterQuestHandlers(r *Router, svc EventApplier, logger *zap.Logger) {
	r.On(TypeQuestEvent, func(ctx context.Context, s *Session, pkt *Packet) error {
		var p QuestEventPayload
		if err := json.Unmarshal(pkt.Payload, &p); err != nil {
			return &PacketError{Code: "bad_request", Err: err}
		}
		if p.PlayerID == "" {
			return &PacketError{Code: "bad_request", Err: errors.New("player_id is required")}
		}
		if _, err := quest.ParseEventType(string(p.Event.Type)); err != nil {
			return &PacketError{Code: "unknown_event_type", Err: err}
		}

		reply := QuestNoticesPayload{PlayerID: p.PlayerID, EventID: p.Event.ID, Notices: []quest.Notice{}}
		notices, err := svc.Apply(ctx, p.PlayerID, p.Event)
		switch {
		case errors.Is(err, quest.ErrDuplicateEvent):
			reply.Duplicate = true
		case err != nil:
			return fmt.Errorf("apply event for %s: %w", p.PlayerID, err)
		default:
			if notices != nil {
				reply.Notices = notices
			}
		}
		logger.Debug("quest event applied",
			zap.String("session_id", s.ID),
			zap.String("player_id", p.PlayerID),
			zap.String("type", string(p.Event.Type)),
			zap.Int("notices", len(reply.Notices)),
			zap.Bool("duplicate", reply.Duplicate))
		s.Reply(pkt.Seq, TypeQuestNotices, reply)
		return nil
	})
}
