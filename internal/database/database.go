package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the slot store: plain CRUD plus the atomic status transitions the
// timeline engine relies on. All values reach SQL through parameter binding.
type DB struct {
	*sql.DB
	loc    *time.Location
	logger *zerolog.Logger
}

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrClientAlreadyBooked = errors.New("client already holds a booking")
	ErrSlotNotAvailable    = errors.New("slot is not booked")
	ErrDuplicateSlot       = errors.New("slot with the same date and time already exists")
)

// NewDB opens (creating if needed) the database at path. Scanned timestamps
// are returned in loc, the service timezone.
func NewDB(path string, loc *time.Location, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, loc: loc, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS slots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			starts_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			raw_text TEXT NOT NULL,
			customer_user_id INTEGER,
			customer_username TEXT,
			customer_name TEXT,
			reminder_day_sent BOOLEAN NOT NULL DEFAULT 0,
			reminder_soon_sent BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME
		)`,

		// Exact duplicate (date, time) pairs would make booking targets
		// ambiguous, so inserts must reject them.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_starts_at ON slots(starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_status ON slots(status)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_customer ON slots(customer_user_id)`,

		// Singleton settings row, created empty at init.
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			about_text TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			prices TEXT NOT NULL DEFAULT '',
			updated_at DATETIME
		)`,
		`INSERT OR IGNORE INTO settings (id) VALUES (1)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// PingContext reports store reachability, for the readiness probe.
func (db *DB) PingContext(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
