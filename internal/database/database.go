package database

import (
	"fmt"

	"example.com/logistics/services/fulfillment/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	ReadOnlyDB() (*gorm.DB, error)
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db       *gorm.DB
	readOnly *gorm.DB
}

// Connect establishes connections to the primary database and, if
// configured, a read replica. Planning queries tolerate replica lag;
// everything that mutates inventory goes through the primary.
func Connect(cfg config.DatabaseConfig) (DB, error) {
	db, err := open(cfg.DSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	readOnly := db
	if cfg.ReadOnlyDSN != "" {
		readOnly, err = open(cfg.ReadOnlyDSN, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to read-only database: %w", err)
		}
	}

	return &GormDatabase{db: db, readOnly: readOnly}, nil
}

func open(dsn string, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// DB returns the primary gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// ReadOnlyDB returns the read replica, falling back to the primary
// when no replica is configured
func (d *GormDatabase) ReadOnlyDB() (*gorm.DB, error) {
	return d.readOnly, nil
}

// Close closes the database connections
func (d *GormDatabase) Close() error {
	if d.readOnly != nil && d.readOnly != d.db {
		if sqlDB, err := d.readOnly.DB(); err == nil {
			sqlDB.Close()
		}
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
