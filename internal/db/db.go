package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"h2all/internal/config"
	"h2all/internal/model"
)

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "sqlite":
		if !isMemoryDSN(cfg.DBDsn) {
			dbDir := filepath.Dir(strings.TrimPrefix(strings.SplitN(cfg.DBDsn, "?", 2)[0], "file:"))
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		return sqlite.Open(cfg.DBDsn), nil
	case "postgres":
		return postgres.Open(cfg.DBDsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or postgres)", cfg.DBDriver)
	}
}

func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDsn == "" {
		return nil, fmt.Errorf("DB_DSN required")
	}
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	// Lookups of absent codes and users are part of normal flow.
	newLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  !cfg.IsProduction(),
		},
	)

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// SQLite serializes writers; one connection keeps transactions from
		// failing with SQLITE_BUSY.
		_ = db.Exec("PRAGMA journal_mode=WAL;").Error
		_ = db.Exec("PRAGMA busy_timeout=10000;").Error
		_ = db.Exec("PRAGMA synchronous=NORMAL;").Error
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Campaign{},
		&model.RedemptionCode{},
		&model.User{},
		&model.OperationLog{},
	)
}
