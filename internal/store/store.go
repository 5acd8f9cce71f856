// Package store persists sessions, files, peers, and settings to a local
// SQLite database via the CGO-free modernc.org/sqlite driver.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB configured for the transfer engine's schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS transfer_sessions (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			peer_device_id TEXT NOT NULL,
			peer_name TEXT,
			status TEXT NOT NULL,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			transferred_bytes INTEGER NOT NULL DEFAULT 0,
			avg_speed_bps REAL NOT NULL DEFAULT 0,
			save_dir TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			error_code TEXT,
			error_message TEXT,
			cleanup_after_at INTEGER,
			pair_code TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON transfer_sessions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON transfer_sessions(status, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_cleanup_after ON transfer_sessions(cleanup_after_at)`,
		`CREATE TABLE IF NOT EXISTS transfer_files (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES transfer_sessions(id) ON DELETE CASCADE,
			relative_path TEXT NOT NULL,
			source_path TEXT,
			target_path TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			transferred_bytes INTEGER NOT NULL DEFAULT 0,
			chunk_size INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			completed_bitmap BLOB,
			blake3 TEXT,
			mime_type TEXT,
			preview_kind TEXT,
			preview_data BLOB,
			status TEXT NOT NULL,
			is_folder_archive INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_session_id ON transfer_files(session_id)`,
		`CREATE TABLE IF NOT EXISTS transfer_peers (
			device_id TEXT PRIMARY KEY,
			display_name TEXT,
			last_seen_at INTEGER,
			paired_at INTEGER,
			trust_level TEXT NOT NULL DEFAULT 'other',
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			blocked_until INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON transfer_peers(last_seen_at DESC)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
