package reward

import (
	"context"

	"github.com/kasuganosora/questforge/server/game/quest"
	"go.uber.org/zap"
)

// Grant is one payout handed to the wallet.
type Grant struct {
	PlayerID   string
	QuestID    quest.QuestID
	InstanceID string
	Reward     quest.Reward
}

// Wallet applies rewards to a player's account. It lives outside this
// service; implementations should treat InstanceID as an idempotency key.
type Wallet interface {
	Grant(ctx context.Context, g Grant) error
}

// LogWallet only records grants. It is used when the game server pulls
// issued grants from the ledger instead of being pushed to.
type LogWallet struct {
	logger *zap.Logger
}

func NewLogWallet(logger *zap.Logger) *LogWallet {
	return &LogWallet{logger: logger}
}

func (w *LogWallet) Grant(_ context.Context, g Grant) error {
	fields := []zap.Field{
		zap.String("player_id", g.PlayerID),
		zap.String("quest_id", string(g.QuestID)),
		zap.String("instance_id", g.InstanceID),
		zap.Int64("exp", g.Reward.Exp),
	}
	for _, c := range g.Reward.Currency {
		fields = append(fields, zap.Int64("currency."+c.Currency, c.Amount))
	}
	for _, it := range g.Reward.Items {
		fields = append(fields, zap.Int("item."+it.Item, it.Qty))
	}
	w.logger.Info("reward granted", fields...)
	return nil
}
