// Package notify holds the notice handlers the server plugs into the hook
// center: reward issuance, audit, live fan-out, the recent feed and Kafka.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/questforge/server/audit"
	"github.com/kasuganosora/questforge/server/cache"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/game/reward"
	"github.com/kasuganosora/questforge/server/plugin/hook"
	"go.uber.org/zap"
)

// Handler priorities; lower runs first.
const (
	PriorityReward = 0
	PriorityAudit  = 10
	PriorityPubSub = 20
	PriorityFeed   = 30
	PriorityKafka  = 40
)

// Auditor records audit entries.
type Auditor interface {
	Log(entry audit.AuditEntry)
}

// Channel is the pub/sub channel carrying a player's notices.
func Channel(playerID string) string { return "quest:" + playerID }

// FeedKey is the cache list holding a player's recent notices.
func FeedKey(playerID string) string { return "quest:feed:" + playerID }

// Reward pays out quest_completed notices. A wallet failure is already in
// the ledger and retried by the scheduler, so only ledger errors are
// returned; those keep the notice in the outbox. An instance that already
// has a ledger row is neither paid nor audited again.
func Reward(issuer quest.RewardIssuer, auditor Auditor, logger *zap.Logger) hook.Handler {
	return func(ctx context.Context, n quest.Notice) error {
		if n.Kind != quest.NoticeQuestCompleted || n.Reward == nil || n.Reward.Empty() {
			return nil
		}
		err := issuer.Issue(ctx, n.PlayerID, n.QuestID, n.InstanceID, *n.Reward)
		var ierr *reward.IssueError
		switch {
		case err == nil:
			record(auditor, n, audit.ActionRewardIssued, n.Reward, "")
			return nil
		case errors.Is(err, reward.ErrAlreadyRecorded):
			return nil
		case errors.As(err, &ierr):
			logger.Warn("reward deferred",
				zap.String("player_id", n.PlayerID),
				zap.String("instance_id", n.InstanceID),
				zap.Bool("final", ierr.Final),
				zap.Error(err))
			record(auditor, n, audit.ActionRewardFailed, n.Reward, err.Error())
			return nil
		default:
			return err
		}
	}
}

// Audit writes accept, abandon and completion notices to the audit trail.
func Audit(auditor Auditor) hook.Handler {
	return func(_ context.Context, n quest.Notice) error {
		switch n.Kind {
		case quest.NoticeQuestAccepted:
			record(auditor, n, audit.ActionQuestAccepted, nil, "")
		case quest.NoticeQuestAbandoned:
			record(auditor, n, audit.ActionQuestAbandoned, nil, "")
		case quest.NoticeQuestCompleted:
			record(auditor, n, audit.ActionQuestCompleted, n.Reward, "")
		}
		return nil
	}
}

func record(auditor Auditor, n quest.Notice, action string, detail interface{}, errText string) {
	if auditor == nil {
		return
	}
	entry := audit.AuditEntry{
		PlayerID:   n.PlayerID,
		QuestID:    string(n.QuestID),
		InstanceID: n.InstanceID,
		Action:     action,
		Error:      errText,
	}
	// a nil *Reward in an interface would encode as "null"
	if r, ok := detail.(*quest.Reward); !ok || r != nil {
		entry.Detail = detail
	}
	auditor.Log(entry)
}

// PubSub publishes every notice on the player's channel for SSE clients.
// Live fan-out is best effort.
func PubSub(ps cache.PubSub, logger *zap.Logger) hook.Handler {
	return func(ctx context.Context, n quest.Notice) error {
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := ps.Publish(ctx, Channel(n.PlayerID), string(raw)); err != nil {
			logger.Warn("publish notice", zap.String("player_id", n.PlayerID), zap.Error(err))
		}
		return nil
	}
}

// feedTTL drops the feeds of players who stopped playing.
const feedTTL = 30 * 24 * time.Hour

// Feed keeps the last length completion notices per player in the cache.
func Feed(c cache.Cache, length int, logger *zap.Logger) hook.Handler {
	if length <= 0 {
		length = 50
	}
	return func(ctx context.Context, n quest.Notice) error {
		if n.Kind != quest.NoticeQuestCompleted && n.Kind != quest.NoticeObjectiveCompleted {
			return nil
		}
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := c.PushCapped(ctx, FeedKey(n.PlayerID), string(raw), int64(length), feedTTL); err != nil {
			logger.Warn("feed push", zap.String("player_id", n.PlayerID), zap.Error(err))
		}
		return nil
	}
}

// ReadFeed returns up to limit recent notices of a player, newest first.
func ReadFeed(ctx context.Context, c cache.Cache, playerID string, limit int) ([]quest.Notice, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := c.LRange(ctx, FeedKey(playerID), 0, int64(limit-1))
	if err != nil {
		if cache.IsNotFound(err) {
			return []quest.Notice{}, nil
		}
		return nil, err
	}
	out := make([]quest.Notice, 0, len(raw))
	for _, s := range raw {
		var n quest.Notice
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			return nil, fmt.Errorf("decode feed entry: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Deps are the collaborators Install wires. Nil members are skipped.
type Deps struct {
	Issuer     quest.RewardIssuer
	Auditor    Auditor
	PubSub     cache.PubSub
	Cache      cache.Cache
	FeedLength int
	Kafka      *KafkaPublisher
	Logger     *zap.Logger
}

// Install registers the standard handlers on center.
func Install(center *hook.Center, d Deps) {
	if d.Issuer != nil {
		center.Register(quest.NoticeQuestCompleted, PriorityReward, "reward", Reward(d.Issuer, d.Auditor, d.Logger))
	}
	if d.Auditor != nil {
		center.RegisterAll(PriorityAudit, "audit", Audit(d.Auditor))
	}
	if d.PubSub != nil {
		center.RegisterAll(PriorityPubSub, "pubsub", PubSub(d.PubSub, d.Logger))
	}
	if d.Cache != nil {
		feed := Feed(d.Cache, d.FeedLength, d.Logger)
		center.Register(quest.NoticeQuestCompleted, PriorityFeed, "feed", feed)
		center.Register(quest.NoticeObjectiveCompleted, PriorityFeed, "feed", feed)
	}
	if d.Kafka != nil && d.Kafka.Enabled() {
		center.RegisterAll(PriorityKafka, "kafka", d.Kafka.Handle)
	}
}
