// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the database file created inside the data directory.
const DBFileName = "walletd.db"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrKeyNotFound     = errors.New("key not found")
)

// Storage provides persistent storage for the wallet daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- JSON documents keyed by name (price snapshot, auth urls, settings, current account)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Keyring material. secret is an encrypted envelope, NULL for external accounts.
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		key_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		genesis_hash TEXT NOT NULL DEFAULT '',
		is_external INTEGER NOT NULL DEFAULT 0,
		is_hardware INTEGER NOT NULL DEFAULT 0,
		secret_kind TEXT NOT NULL DEFAULT '',
		derivation_path TEXT NOT NULL DEFAULT '',
		secret TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transaction_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		network_key TEXT NOT NULL,
		time INTEGER NOT NULL,
		change TEXT NOT NULL DEFAULT '',
		change_symbol TEXT NOT NULL DEFAULT '',
		fee TEXT NOT NULL DEFAULT '',
		fee_symbol TEXT NOT NULL DEFAULT '',
		is_success INTEGER NOT NULL DEFAULT 0,
		extrinsic_hash TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_owner ON transaction_history(address, network_key, time);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_unique
		ON transaction_history(address, network_key, extrinsic_hash, action)
		WHERE extrinsic_hash != '';
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs ALTER TABLE statements for databases created by older
// builds. Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE accounts ADD COLUMN derivation_path TEXT NOT NULL DEFAULT ''",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
