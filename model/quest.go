package model

import (
	"time"

	"gorm.io/datatypes"
)

// PlayerQuestState is the persisted quest blob of one player.
type PlayerQuestState struct {
	PlayerID    string         `gorm:"primaryKey;size:64" json:"player_id"`
	State       datatypes.JSON `gorm:"not null" json:"state"`
	Version     int64          `gorm:"not null;default:0" json:"version"`
	ActiveCount int            `gorm:"default:0" json:"active_count"`
	OutboxCount int            `gorm:"index:idx_pqs_outbox;default:0" json:"outbox_count"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
