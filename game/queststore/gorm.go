package queststore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/kasuganosora/questforge/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps one player_quest_states row per player. Writes are
// optimistic: a save only succeeds against the version it was loaded at.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

func (s *GormStore) Load(ctx context.Context, playerID string) (*quest.PlayerState, error) {
	var row model.PlayerQuestState
	err := s.db.WithContext(ctx).Where("player_id = ?", playerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return quest.NewPlayerState(playerID), nil
	}
	if err != nil {
		return nil, err
	}
	st, err := quest.UnmarshalState(row.State)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", playerID, err)
	}
	st.PlayerID = playerID
	st.Version = row.Version
	return st, nil
}

func (s *GormStore) Save(ctx context.Context, st *quest.PlayerState) error {
	prev := st.Version
	st.Version++
	data, err := quest.MarshalState(st)
	if err != nil {
		st.Version = prev
		return err
	}
	row := model.PlayerQuestState{
		PlayerID:    st.PlayerID,
		State:       datatypes.JSON(data),
		Version:     st.Version,
		ActiveCount: len(st.ActiveQuests()),
		OutboxCount: len(st.Outbox),
	}

	var res *gorm.DB
	if prev == 0 {
		res = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	} else {
		res = s.db.WithContext(ctx).Model(&model.PlayerQuestState{}).
			Where("player_id = ? AND version = ?", st.PlayerID, prev).
			Updates(map[string]interface{}{
				"state":        row.State,
				"version":      row.Version,
				"active_count": row.ActiveCount,
				"outbox_count": row.OutboxCount,
			})
	}
	if res.Error != nil {
		st.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		st.Version = prev
		return fmt.Errorf("%w: player %s at version %d", quest.ErrVersionConflict, st.PlayerID, prev)
	}
	return nil
}

// PlayersWithOutbox lists players holding undelivered completion notices.
func (s *GormStore) PlayersWithOutbox(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.PlayerQuestState{}).
		Where("outbox_count > 0").
		Order("updated_at").
		Limit(limit).
		Pluck("player_id", &ids).Error
	return ids, err
}
