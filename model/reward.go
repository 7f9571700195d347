package model

import (
	"time"

	"gorm.io/datatypes"
)

// Reward grant states.
const (
	GrantPending = "pending"
	GrantIssued  = "issued"
	GrantFailed  = "failed"
)

// RewardGrant is the ledger row for one completed quest instance. The unique
// instance_id is what makes issuance exactly-once.
type RewardGrant struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceID    string         `gorm:"uniqueIndex:idx_grant_instance;size:36;not null" json:"instance_id"`
	PlayerID      string         `gorm:"index:idx_grant_player;size:64;not null" json:"player_id"`
	QuestID       string         `gorm:"size:64;not null" json:"quest_id"`
	Reward        datatypes.JSON `json:"reward"`
	Status        string         `gorm:"index:idx_grant_due,priority:1;size:16;not null" json:"status"`
	Attempts      int            `gorm:"default:0" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"index:idx_grant_due,priority:2" json:"next_attempt_at"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`
	IssuedAt      *time.Time     `json:"issued_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
