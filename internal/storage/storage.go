// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the swap daemon.
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

	dbPath := filepath.Join(dataDir, "chimera.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
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

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Assembly audit log: one row per swap assembly request.
	-- The assembled transaction is immutable once written; only the
	-- submission status changes afterwards.
	CREATE TABLE IF NOT EXISTS swap_requests (
		id TEXT PRIMARY KEY,

		-- 'inscription_rune' or 'rune_inscription'
		direction TEXT NOT NULL,

		-- Custodial UTXO references (JSON array of {txid, vout})
		custodial_refs TEXT NOT NULL,

		-- Shape of the assembled transaction
		user_input_count INTEGER NOT NULL,
		custodial_count INTEGER NOT NULL,
		output_count INTEGER NOT NULL,

		-- The assembled transaction and its designations
		tx_hex TEXT NOT NULL,
		designations TEXT NOT NULL,

		-- Submission to the signing service
		status TEXT NOT NULL DEFAULT 'assembled',
		failure_reason TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swap_requests_status ON swap_requests(status);
	CREATE INDEX IF NOT EXISTS idx_swap_requests_created ON swap_requests(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
