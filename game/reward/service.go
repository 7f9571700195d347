package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrGrantNotFound is returned for unknown ledger rows.
	ErrGrantNotFound = errors.New("reward: grant not found")
	// ErrAlreadyRecorded is returned by Issue when the instance already has a
	// ledger row; nothing is paid.
	ErrAlreadyRecorded = errors.New("reward: grant already recorded")
)

// IssueError reports a wallet failure. The grant is already recorded in the
// ledger and will be retried; the quest stays completed.
type IssueError struct {
	InstanceID string
	Attempts   int
	Final      bool // no further retries
	Err        error
}

func (e *IssueError) Error() string {
	if e.Final {
		return fmt.Sprintf("reward %s failed permanently after %d attempts: %v", e.InstanceID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("reward %s attempt %d failed: %v", e.InstanceID, e.Attempts, e.Err)
}

func (e *IssueError) Unwrap() error { return e.Err }

// Config tunes retries.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 5 * time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = 30 * time.Minute
	}
	return c
}

// Service issues quest rewards exactly once per instance, backed by the
// reward_grants ledger.
type Service struct {
	db     *gorm.DB
	wallet Wallet
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a reward Service.
func NewService(db *gorm.DB, wallet Wallet, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		wallet: wallet,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ledger timestamps are always UTC so they compare correctly as stored text
func (s *Service) clock() time.Time { return s.now().UTC() }

// Issue records the grant for instanceID and pays it out. A second call for
// the same instance pays nothing and returns ErrAlreadyRecorded.
func (s *Service) Issue(ctx context.Context, playerID string, questID quest.QuestID, instanceID string, r quest.Reward) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	now := s.clock()
	g := model.RewardGrant{
		InstanceID: instanceID,
		PlayerID:   playerID,
		QuestID:    string(questID),
		Reward:     datatypes.JSON(payload),
		Status:     model.GrantPending,
		Attempts:   1,
		// acts as a lease: the retry worker leaves the row alone until then
		NextAttemptAt: now.Add(s.cfg.BaseBackoff),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&g)
	if res.Error != nil {
		return fmt.Errorf("record reward grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Debug("reward already recorded",
			zap.String("player_id", playerID),
			zap.String("instance_id", instanceID))
		return ErrAlreadyRecorded
	}
	return s.attempt(ctx, &g, r)
}

// attempt calls the wallet for a claimed grant and records the outcome.
func (s *Service) attempt(ctx context.Context, g *model.RewardGrant, r quest.Reward) error {
	werr := s.wallet.Grant(ctx, Grant{
		PlayerID:   g.PlayerID,
		QuestID:    quest.QuestID(g.QuestID),
		InstanceID: g.InstanceID,
		Reward:     r,
	})
	now := s.clock()
	updates := map[string]interface{}{}
	var ierr *IssueError
	switch {
	case werr == nil:
		updates["status"] = model.GrantIssued
		updates["issued_at"] = now
		updates["last_error"] = ""
	case g.Attempts >= s.cfg.MaxAttempts:
		updates["status"] = model.GrantFailed
		updates["last_error"] = werr.Error()
		ierr = &IssueError{InstanceID: g.InstanceID, Attempts: g.Attempts, Final: true, Err: werr}
	default:
		updates["next_attempt_at"] = now.Add(s.backoff(g.Attempts))
		updates["last_error"] = werr.Error()
		ierr = &IssueError{InstanceID: g.InstanceID, Attempts: g.Attempts, Err: werr}
	}
	if err := s.db.WithContext(ctx).Model(&model.RewardGrant{}).Where("id = ?", g.ID).Updates(updates).Error; err != nil {
		s.logger.Error("reward ledger update failed",
			zap.String("instance_id", g.InstanceID), zap.Error(err))
	}
	if ierr != nil {
		s.logger.Warn("reward issue failed",
			zap.String("player_id", g.PlayerID),
			zap.String("instance_id", g.InstanceID),
			zap.Int("attempts", g.Attempts),
			zap.Bool("final", ierr.Final),
			zap.Error(werr))
		return ierr
	}
	s.logger.Info("reward issued",
		zap.String("player_id", g.PlayerID),
		zap.String("quest_id", g.QuestID),
		zap.String("instance_id", g.InstanceID))
	return nil
}

func (s *Service) backoff(attempts int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

// RetryPending re-attempts due grants. Each row is claimed with a
// conditional update first so concurrent workers never pay twice.
func (s *Service) RetryPending(ctx context.Context, limit int) (issued, failed int, err error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock()
	var due []model.RewardGrant
	err = s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.GrantPending, now).
		Order("id").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return 0, 0, err
	}

	for i := range due {
		g := &due[i]
		res := s.db.WithContext(ctx).Model(&model.RewardGrant{}).
			Where("id = ? AND status = ? AND attempts = ?", g.ID, model.GrantPending, g.Attempts).
			Updates(map[string]interface{}{
				"attempts":        g.Attempts + 1,
				"next_attempt_at": now.Add(s.backoff(g.Attempts + 1)),
			})
		if res.Error != nil {
			return issued, failed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		g.Attempts++

		var r quest.Reward
		if err := json.Unmarshal(g.Reward, &r); err != nil {
			s.logger.Error("undecodable reward payload", zap.String("instance_id", g.InstanceID), zap.Error(err))
			continue
		}
		if err := s.attempt(ctx, g, r); err != nil {
			failed++
			continue
		}
		issued++
	}
	return issued, failed, nil
}

// List returns grants in status (all when empty), oldest first.
func (s *Service) List(ctx context.Context, status string, limit int) ([]model.RewardGrant, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("id").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []model.RewardGrant
	return out, q.Find(&out).Error
}

// ByInstance returns the ledger row of a quest instance.
func (s *Service) ByInstance(ctx context.Context, instanceID string) (*model.RewardGrant, error) {
	var g model.RewardGrant
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, instanceID)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Requeue puts a failed grant back into the retry queue with a fresh
// attempt budget.
func (s *Service) Requeue(ctx context.Context, instanceID string) error {
	res := s.db.WithContext(ctx).Model(&model.RewardGrant{}).
		Where("instance_id = ? AND status = ?", instanceID, model.GrantFailed).
		Updates(map[string]interface{}{
			"status":          model.GrantPending,
			"attempts":        0,
			"next_attempt_at": s.clock(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no failed grant for %s", ErrGrantNotFound, instanceID)
	}
	return nil
}
