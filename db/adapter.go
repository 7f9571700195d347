package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kasuganosora/questforge/server/config"
	dbmysql "github.com/kasuganosora/questforge/server/db/mysql"
	dbpostgres "github.com/kasuganosora/questforge/server/db/postgres"
	dbsqlite "github.com/kasuganosora/questforge/server/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeMemory:
		return dbsqlite.OpenMemory(uuid.NewString())
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		db, err := dbmysql.Open(cfg.MySQLDSN)
		return withPool(db, err, cfg)
	case ModePostgres:
		db, err := dbpostgres.Open(cfg.PostgresDSN)
		return withPool(db, err, cfg)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// withPool applies the configured pool limits to a server-backed database.
func withPool(db *gorm.DB, err error, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Mode, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)
	return db, nil
}
