package model

import (
	"fmt"

	"gorm.io/gorm"
)

// Tables is the schema of the quest server in creation order.
func Tables() []interface{} {
	return []interface{}{
		&PlayerQuestState{},
		&RewardGrant{},
		&AuditLog{},
	}
}

// AutoMigrate brings every table up to date, naming the table that failed.
func AutoMigrate(db *gorm.DB) error {
	for _, m := range Tables() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	return nil
}
