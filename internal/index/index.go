// Package index provides the derived SQLite projection of the vault.
//
// The index is never authoritative: every row is re-derivable from the
// entity store, and the whole database can be dropped and rebuilt at any
// time with no data loss. It exists to make filtering, scheduling sweeps,
// and joins fast.
//
// The database runs embedded with WAL mode so readers always see the last
// committed state while a writer is active. All mutation paths run inside
// transactions; a rebuild replaces every entity row in a single
// transaction so concurrent readers see either the old index or the new
// one, never a partial mix.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with index-specific operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the index database at the specified path.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL mode keeps reads available during the rebuild transaction.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id                    TEXT PRIMARY KEY,
		title                 TEXT NOT NULL,
		status                TEXT NOT NULL,
		priority              TEXT NOT NULL DEFAULT 'medium',
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL,
		completed_at          TEXT,
		due_date              TEXT,
		project_id            TEXT,
		project_name          TEXT,
		time_estimate_minutes INTEGER,
		time_estimate_source  TEXT,
		time_actual_minutes   INTEGER,
		calendar_event_id     TEXT,
		scheduled_start       TEXT,
		scheduled_end         TEXT,
		context               TEXT,
		file_path             TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_calendar_event ON tasks(calendar_event_id);

	CREATE TABLE IF NOT EXISTS task_tags (
		task_id TEXT NOT NULL,
		tag     TEXT NOT NULL,
		PRIMARY KEY (task_id, tag)
	);
	CREATE TABLE IF NOT EXISTS task_people (
		task_id   TEXT NOT NULL,
		person_id TEXT NOT NULL,
		PRIMARY KEY (task_id, person_id)
	);
	CREATE TABLE IF NOT EXISTS task_subtasks (
		parent_id TEXT NOT NULL,
		child_id  TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deadline   TEXT,
		file_path  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS project_people (
		project_id TEXT NOT NULL,
		person_id  TEXT NOT NULL,
		PRIMARY KEY (project_id, person_id)
	);

	CREATE TABLE IF NOT EXISTS people (
		id                     TEXT PRIMARY KEY,
		name                   TEXT NOT NULL,
		role                   TEXT,
		company                TEXT,
		email                  TEXT,
		phone                  TEXT,
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL,
		last_contact           TEXT,
		contact_frequency_days INTEGER,
		file_path              TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_logs (
		id                    TEXT PRIMARY KEY,
		date                  TEXT NOT NULL UNIQUE,
		created_at            TEXT NOT NULL,
		morning_checkin_at    TEXT,
		evening_review_at     TEXT,
		total_planned_minutes INTEGER NOT NULL DEFAULT 0,
		total_actual_minutes  INTEGER NOT NULL DEFAULT 0,
		energy_level_morning  INTEGER,
		energy_level_evening  INTEGER,
		file_path             TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		user_id       INTEGER NOT NULL,
		chat_id       INTEGER NOT NULL,
		context_type  TEXT NOT NULL,
		context_data  TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		expires_at    TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_context
		ON sessions(user_id, context_type);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id                 TEXT PRIMARY KEY,
		type               TEXT NOT NULL,
		priority           TEXT NOT NULL DEFAULT 'default',
		scheduled_for      TEXT NOT NULL,
		sent_at            TEXT,
		acknowledged_at    TEXT,
		lapsed_at          TEXT,
		escalation_level   INTEGER NOT NULL DEFAULT 0,
		next_escalation_at TEXT,
		response_summary   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_scheduled
		ON notifications(type, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_notifications_escalation
		ON notifications(next_escalation_at);

	CREATE TABLE IF NOT EXISTS mirror_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetMirrorState reads a mirror bookkeeping value ("" when unset).
func (db *DB) GetMirrorState(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM mirror_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read mirror state %q: %w", key, err)
	}
	return value, nil
}

// SetMirrorState writes a mirror bookkeeping value.
func (db *DB) SetMirrorState(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO mirror_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write mirror state %q: %w", key, err)
	}
	return nil
}

// nullable converts "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt converts 0 to NULL for optional integer columns.
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
