// Package session manages bounded conversational sessions. A session is
// the short-lived context that lets a reply like "done" or "3pm works"
// mean something: it remembers what the user and the assistant were in
// the middle of, for one user and one kind of exchange at a time.
package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/steward-bot/steward/internal/index"
)

// Context types a session can carry. The (user, context type) pair is the
// session key: starting a new exchange of the same type replaces the old
// session rather than stacking a second one.
const (
	ContextGeneral      = "general"
	ContextTaskCreation = "task_creation"
	ContextCheckin      = "checkin"
	ContextReview       = "review"
)

// Config bounds session lifetime.
type Config struct {
	// TTL extends on every message; the session idles out after it.
	TTL time.Duration
	// MaxAge caps total session lifetime regardless of activity.
	MaxAge time.Duration
	// MessageCeiling is the most messages a single session may span.
	// The message that would exceed it starts a fresh session instead.
	MessageCeiling int
}

// DefaultConfig returns the standard session bounds.
func DefaultConfig() Config {
	return Config{
		TTL:            30 * time.Minute,
		MaxAge:         2 * time.Hour,
		MessageCeiling: 5,
	}
}

// State is the session view handed to the conversation router.
type State struct {
	ID           string
	UserID       int64
	ChatID       int64
	ContextType  string
	ContextData  string
	MessageCount int
	// Fresh is set when this message started a new session (no prior
	// session, or the prior one had expired).
	Fresh bool
	// Superseded is set when a prior session hit its message ceiling and
	// was completed to make room; the router should re-establish context
	// rather than assume continuity.
	Superseded bool
}

// Manager owns session lifecycle against the index database.
type Manager struct {
	cfg    Config
	db     *index.DB
	logger *log.Logger
	now    func() time.Time

	// Serializes concurrent messages for the same session key.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a session manager.
func New(cfg Config, db *index.DB, logger *log.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * time.Hour
	}
	if cfg.MessageCeiling <= 0 {
		cfg.MessageCeiling = 5
	}
	return &Manager{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) keyLock(userID int64, contextType string) *sync.Mutex {
	key := fmt.Sprintf("%d/%s", userID, contextType)
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

// Touch records one message against the session for (userID, contextType)
// and returns the resulting state. It creates a session when none exists
// or the existing one has expired, extends the TTL otherwise, and rolls
// over to a fresh session when the message ceiling would be exceeded.
// At most one session per key exists at any time.
func (m *Manager) Touch(userID, chatID int64, contextType, contextData string) (*State, error) {
	mu := m.keyLock(userID, contextType)
	mu.Lock()
	defer mu.Unlock()

	now := m.now()
	existing, err := m.db.GetSession(userID, contextType)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		expired := false
		if exp, err := time.Parse(time.RFC3339, existing.ExpiresAt); err != nil || !now.Before(exp) {
			expired = true
		}
		if expired {
			m.logger.Printf("[session] %s for user %d expired, starting fresh", contextType, userID)
			existing = nil
		}
	}

	if existing == nil {
		return m.start(userID, chatID, contextType, contextData, now, false)
	}

	if existing.MessageCount >= m.cfg.MessageCeiling {
		// The ceiling bounds how much history a single exchange can
		// accumulate. The overflowing message seeds a new session.
		m.logger.Printf("[session] %s for user %d hit message ceiling, rolling over", contextType, userID)
		return m.start(userID, chatID, contextType, contextData, now, true)
	}

	existing.MessageCount++
	existing.UpdatedAt = now.Format(time.RFC3339)
	existing.ExpiresAt = m.expiry(existing.CreatedAt, now).Format(time.RFC3339)
	if contextData != "" {
		existing.ContextData = contextData
	}
	if err := m.db.PutSession(existing); err != nil {
		return nil, err
	}
	return &State{
		ID:           existing.ID,
		UserID:       existing.UserID,
		ChatID:       existing.ChatID,
		ContextType:  existing.ContextType,
		ContextData:  existing.ContextData,
		MessageCount: existing.MessageCount,
	}, nil
}

func (m *Manager) start(userID, chatID int64, contextType, contextData string, now time.Time, superseded bool) (*State, error) {
	s := &index.Session{
		ID:           ulid.Make().String(),
		UserID:       userID,
		ChatID:       chatID,
		ContextType:  contextType,
		ContextData:  contextData,
		MessageCount: 1,
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
		ExpiresAt:    now.Add(m.cfg.TTL).Format(time.RFC3339),
	}
	// PutSession replaces any row sharing the key, so a rollover never
	// leaves two live sessions behind.
	if err := m.db.PutSession(s); err != nil {
		return nil, err
	}
	return &State{
		ID:           s.ID,
		UserID:       s.UserID,
		ChatID:       s.ChatID,
		ContextType:  s.ContextType,
		ContextData:  s.ContextData,
		MessageCount: 1,
		Fresh:        true,
		Superseded:   superseded,
	}, nil
}

// expiry extends the idle deadline but never past the absolute age cap.
func (m *Manager) expiry(createdAt string, now time.Time) time.Time {
	deadline := now.Add(m.cfg.TTL)
	if created, err := time.Parse(time.RFC3339, createdAt); err == nil {
		if cap := created.Add(m.cfg.MaxAge); deadline.After(cap) {
			return cap
		}
	}
	return deadline
}

// SetData replaces the stored context payload for a live session.
func (m *Manager) SetData(userID int64, contextType, contextData string) error {
	mu := m.keyLock(userID, contextType)
	mu.Lock()
	defer mu.Unlock()

	s, err := m.db.GetSession(userID, contextType)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("no live %s session for user %d", contextType, userID)
	}
	s.ContextData = contextData
	s.UpdatedAt = m.now().Format(time.RFC3339)
	return m.db.PutSession(s)
}

// Get returns the live session for a key without counting a message, or
// nil when none exists or it has expired.
func (m *Manager) Get(userID int64, contextType string) (*State, error) {
	s, err := m.db.GetSession(userID, contextType)
	if err != nil || s == nil {
		return nil, err
	}
	if exp, err := time.Parse(time.RFC3339, s.ExpiresAt); err != nil || !m.now().Before(exp) {
		return nil, nil
	}
	return &State{
		ID:           s.ID,
		UserID:       s.UserID,
		ChatID:       s.ChatID,
		ContextType:  s.ContextType,
		ContextData:  s.ContextData,
		MessageCount: s.MessageCount,
	}, nil
}

// Complete ends a session deliberately, before any bound is hit.
func (m *Manager) Complete(userID int64, contextType string) error {
	mu := m.keyLock(userID, contextType)
	mu.Lock()
	defer mu.Unlock()
	return m.db.DeleteSession(userID, contextType)
}

// Sweep removes every expired session and returns how many went.
func (m *Manager) Sweep() (int, error) {
	n, err := m.db.SweepSessions(m.now().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Printf("[session] swept %d expired sessions", n)
	}
	return n, nil
}
