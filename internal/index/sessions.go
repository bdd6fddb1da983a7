package index

import (
	"database/sql"
	"fmt"
)

// Session is a persisted conversational session row. Sessions live in the
// index database rather than the vault: they are ephemeral process state,
// not entities, and a rebuild leaves them alone.
type Session struct {
	ID           string
	UserID       int64
	ChatID       int64
	ContextType  string
	ContextData  string
	MessageCount int
	CreatedAt    string
	UpdatedAt    string
	ExpiresAt    string
}

const sessionColumns = `
	session_id, user_id, chat_id, context_type,
	COALESCE(context_data, ''), message_count,
	created_at, updated_at, expires_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.ChatID, &s.ContextType,
		&s.ContextData, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession returns the session for a (user, context type) pair, expired
// or not, or nil when none exists. The unique index on the pair guarantees
// at most one row.
func (db *DB) GetSession(userID int64, contextType string) (*Session, error) {
	s, err := scanSession(db.conn.QueryRow(
		"SELECT"+sessionColumns+" FROM sessions WHERE user_id = ? AND context_type = ?",
		userID, contextType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session for user %d: %w", userID, err)
	}
	return s, nil
}

// PutSession inserts or replaces a session. INSERT OR REPLACE also evicts
// any row colliding on (user_id, context_type), which is exactly the
// supersede behavior the at-most-one-session invariant wants.
func (db *DB) PutSession(s *Session) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO sessions (
			session_id, user_id, chat_id, context_type, context_data,
			message_count, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.ChatID, s.ContextType, nullable(s.ContextData),
		s.MessageCount, s.CreatedAt, s.UpdatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.ID, err)
	}
	return nil
}

// DeleteSession removes a session by its (user, context type) key.
func (db *DB) DeleteSession(userID int64, contextType string) error {
	_, err := db.conn.Exec(
		"DELETE FROM sessions WHERE user_id = ? AND context_type = ?",
		userID, contextType)
	if err != nil {
		return fmt.Errorf("failed to delete session for user %d: %w", userID, err)
	}
	return nil
}

// SweepSessions deletes every session whose expiry is at or before now
// (RFC 3339) and returns how many were removed.
func (db *DB) SweepSessions(now string) (int, error) {
	res, err := db.conn.Exec("DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return int(n), nil
}
