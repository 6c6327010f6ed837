// Package store persists actors, maya actors, TTS history and job records in
// SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"sillymedia/internal/common/fsutil"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique name is already taken.
	ErrConflict = errors.New("already exists")
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS actors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	language TEXT NOT NULL DEFAULT 'en',
	description TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS actor_audio_files (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
	ref TEXT NOT NULL,
	original_name TEXT NOT NULL DEFAULT '',
	duration_seconds REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actor_audio_files_actor_id ON actor_audio_files(actor_id);

CREATE TABLE IF NOT EXISTS maya_actors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	voice_description TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tts_history (
	id TEXT PRIMARY KEY,
	actor_name TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT 'en',
	ref TEXT NOT NULL,
	duration_seconds REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tts_history_created ON tts_history(created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	current_step INTEGER NOT NULL DEFAULT 0,
	total_steps INTEGER NOT NULL DEFAULT 0,
	elapsed_seconds REAL NOT NULL DEFAULT 0,
	estimated_seconds REAL NOT NULL DEFAULT 0,
	result_refs TEXT NOT NULL DEFAULT '[]',
	thumbnail_ref TEXT NOT NULL DEFAULT '',
	meta TEXT NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER NOT NULL DEFAULT 0,
	finished_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_jobs_kind_created ON jobs(kind, created_at);
`

// DB wraps the SQLite connection. SQLite serializes writers itself and WAL
// mode lets readers proceed during writes, so no application lock is held.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := &DB{conn: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (db *DB) stamp() time.Time { return db.now().UTC() }
