// Package database provides connection management and schema initialization
// for the signal hub.
//
// The primary store is PostgreSQL via GORM; an embedded sqlite store is
// supported for development and tests. Row-level locking in the credit
// ledger is only enabled on PostgreSQL.
package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "signalhub/database/models_pkg"
)

// Database holds the GORM database connection
type Database struct {
	db       *gorm.DB
	embedded bool
}

// DB returns the underlying GORM database instance for direct access
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Embedded reports whether the backing store is the embedded sqlite engine
func (d *Database) Embedded() bool {
	return d.embedded
}

// Connect establishes a PostgreSQL connection using GORM
func Connect(host, port, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// ConnectSQLite opens the embedded sqlite store. Used for development and
// tests; use ":memory:" for a throwaway database.
func ConnectSQLite(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	return &Database{db: db, embedded: true}, nil
}

// InitSchema migrates all tables
func (d *Database) InitSchema() error {
	err := d.db.AutoMigrate(
		&models.Channel{},
		&models.Subscription{},
		&models.SignalEvent{},
		&models.DeliveryLog{},
		&models.CreditAccount{},
		&models.CreditTransaction{},
		&models.BotConnection{},
		&models.StrategyEntitlement{},
	)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
