package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Task names registered by the server.
const (
	TaskRewardRetry     = "reward_retry"
	TaskOutboxRedeliver = "outbox_redeliver"
	TaskBootRedeliver   = "boot_redeliver" // one-shot sweep of notices left by the previous process
)

// RewardRetrier re-attempts pending reward grants.
type RewardRetrier interface {
	RetryPending(ctx context.Context, limit int) (issued, failed int, err error)
}

// OutboxScanner lists players holding undelivered notices.
type OutboxScanner interface {
	PlayersWithOutbox(ctx context.Context, limit int) ([]string, error)
}

// Redeliverer re-dispatches a player's outbox.
type Redeliverer interface {
	RedeliverOutbox(ctx context.Context, playerID string) (int, error)
}

// RewardRetryTask retries up to batch due reward grants per run.
func RewardRetryTask(r RewardRetrier, batch int, logger *zap.Logger) TaskFn {
	return func(ctx context.Context) error {
		issued, failed, err := r.RetryPending(ctx, batch)
		if issued > 0 || failed > 0 {
			logger.Info("reward retry pass",
				zap.Int("issued", issued),
				zap.Int("failed", failed))
		}
		return err
	}
}

// OutboxRedeliverTask redelivers the outboxes of up to batch players per
// run. One player's failure does not stop the others.
func OutboxRedeliverTask(scan OutboxScanner, r Redeliverer, batch int, logger *zap.Logger) TaskFn {
	return func(ctx context.Context) error {
		players, err := scan.PlayersWithOutbox(ctx, batch)
		if err != nil {
			return err
		}
		var errs []error
		total := 0
		for _, id := range players {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := r.RedeliverOutbox(ctx, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			total += n
		}
		if total > 0 {
			logger.Info("outbox redelivered",
				zap.Int("players", len(players)),
				zap.Int("notices", total))
		}
		return errors.Join(errs...)
	}
}
