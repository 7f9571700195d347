package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records quest lifecycle actions (accept, abandon, complete, reward).
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	PlayerID   string         `gorm:"index:idx_audit_player;size:64;not null" json:"player_id"`
	QuestID    string         `gorm:"size:64" json:"quest_id"`
	InstanceID string         `gorm:"size:36" json:"instance_id"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
