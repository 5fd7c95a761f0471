package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nilecruise/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB represents the database connection.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var (
	ErrNotFound               = models.ErrNotFound
	ErrConflict               = errors.New("reservation claim conflict")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens the SQLite database at path and creates the schema.
//
// Every transaction starts with BEGIN IMMEDIATE (_txlock=immediate): the write
// lock is taken before the availability re-check, so two commits can never
// both pass the check before either has inserted.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
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

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('VESSEL', 'PACKAGE')),
			base_rate REAL NOT NULL DEFAULT 0,
			duration_days INTEGER NOT NULL DEFAULT 0,
			max_guests INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cabins (
			id INTEGER PRIMARY KEY,
			unit_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			capacity INTEGER NOT NULL DEFAULT 1,
			rate_delta REAL NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (unit_id) REFERENCES units(id)
		)`,
		// Dates are stored as YYYY-MM-DD text so range predicates compare lexically.
		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reference TEXT UNIQUE NOT NULL,
			unit_id INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			guests INTEGER NOT NULL CHECK (guests > 0),
			status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'CONFIRMED', 'CANCELLED')),
			base_price REAL NOT NULL,
			total_price REAL NOT NULL,
			guest_name TEXT NOT NULL DEFAULT '',
			guest_email TEXT,
			guest_phone TEXT,
			notes TEXT,
			idempotency_key TEXT UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (start_date < end_date),
			FOREIGN KEY (unit_id) REFERENCES units(id)
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_cabins (
			reservation_id INTEGER NOT NULL,
			cabin_id INTEGER NOT NULL,
			PRIMARY KEY (reservation_id, cabin_id),
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE,
			FOREIGN KEY (cabin_id) REFERENCES cabins(id)
		)`,
		// One row per occupied night of an active reservation. cabin_id 0 claims
		// the whole unit (packages). The unique key is the storage-level guard
		// against double booking.
		`CREATE TABLE IF NOT EXISTS reservation_claims (
			unit_id INTEGER NOT NULL,
			cabin_id INTEGER NOT NULL,
			night TEXT NOT NULL,
			reservation_id INTEGER NOT NULL,
			UNIQUE (unit_id, cabin_id, night),
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cabins_unit ON cabins(unit_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_unit_range ON reservations(unit_id, start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_cabins_cabin ON reservation_cabins(cabin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_claims_reservation ON reservation_claims(reservation_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(query), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// WithTx runs fn inside a single immediate transaction. fn's error, a panic or
// a cancelled context roll everything back.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Tx is an open unit of work. It exposes the same reads as DB so the
// availability algorithm can run inside it.
type Tx struct {
	tx *sql.Tx
}

func (db *DB) Close() error {
	return db.DB.Close()
}
