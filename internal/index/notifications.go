package index

import (
	"database/sql"
	"fmt"
)

// Notification is a persisted notification record. The scheduler drives
// the whole escalation state machine through these rows (a timer-keyed
// state table) so that restarts can reconcile instead of double-firing.
type Notification struct {
	ID               string
	Type             string
	Priority         string
	ScheduledFor     string
	SentAt           string
	AcknowledgedAt   string
	LapsedAt         string
	EscalationLevel  int
	NextEscalationAt string
	ResponseSummary  string
}

const notificationColumns = `
	id, type, priority, scheduled_for,
	COALESCE(sent_at, ''), COALESCE(acknowledged_at, ''), COALESCE(lapsed_at, ''),
	escalation_level, COALESCE(next_escalation_at, ''), COALESCE(response_summary, '')`

func scanNotification(row interface{ Scan(...any) error }) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.Type, &n.Priority, &n.ScheduledFor,
		&n.SentAt, &n.AcknowledgedAt, &n.LapsedAt,
		&n.EscalationLevel, &n.NextEscalationAt, &n.ResponseSummary)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// InsertNotification records a newly scheduled notification.
func (db *DB) InsertNotification(n *Notification) error {
	_, err := db.conn.Exec(`
		INSERT INTO notifications (
			id, type, priority, scheduled_for, sent_at, acknowledged_at,
			lapsed_at, escalation_level, next_escalation_at, response_summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Priority, n.ScheduledFor, nullable(n.SentAt),
		nullable(n.AcknowledgedAt), nullable(n.LapsedAt), n.EscalationLevel,
		nullable(n.NextEscalationAt), nullable(n.ResponseSummary))
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", n.ID, err)
	}
	return nil
}

// GetNotification returns a notification by id, or nil when unknown.
func (db *DB) GetNotification(id string) (*Notification, error) {
	n, err := scanNotification(db.conn.QueryRow(
		"SELECT"+notificationColumns+" FROM notifications WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return n, nil
}

// MarkNotificationSent stamps sent_at and arms the first escalation timer.
func (db *DB) MarkNotificationSent(id, sentAt, nextEscalationAt string) error {
	_, err := db.conn.Exec(`
		UPDATE notifications
		SET sent_at = ?, next_escalation_at = ?
		WHERE id = ?`, sentAt, nullable(nextEscalationAt), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return nil
}

// AcknowledgeNotification stamps acknowledged_at and disarms any pending
// escalation. Reports whether a row was actually acknowledged (false when
// the id is unknown or the record was already acknowledged).
func (db *DB) AcknowledgeNotification(id, ackAt, responseSummary string) (bool, error) {
	res, err := db.conn.Exec(`
		UPDATE notifications
		SET acknowledged_at = ?, response_summary = ?, next_escalation_at = NULL
		WHERE id = ? AND acknowledged_at IS NULL`,
		ackAt, nullable(responseSummary), id)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge notification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge notification %s: %w", id, err)
	}
	return n > 0, nil
}

// UpdateEscalation raises a notification one escalation step.
func (db *DB) UpdateEscalation(id string, level int, priority, nextEscalationAt string) error {
	_, err := db.conn.Exec(`
		UPDATE notifications
		SET escalation_level = ?, priority = ?, next_escalation_at = ?
		WHERE id = ?`, level, priority, nullable(nextEscalationAt), id)
	if err != nil {
		return fmt.Errorf("failed to escalate notification %s: %w", id, err)
	}
	return nil
}

// MarkNotificationLapsed ends escalation for a notification that was never
// acknowledged. Lapsed records are kept for reporting, not retried.
func (db *DB) MarkNotificationLapsed(id, lapsedAt string) error {
	_, err := db.conn.Exec(`
		UPDATE notifications
		SET lapsed_at = ?, next_escalation_at = NULL
		WHERE id = ?`, lapsedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s lapsed: %w", id, err)
	}
	return nil
}

// EscalationsDue returns sent, unacknowledged, unlapsed notifications
// whose escalation timer has fired as of now (RFC 3339).
func (db *DB) EscalationsDue(now string) ([]*Notification, error) {
	rows, err := db.conn.Query("SELECT"+notificationColumns+` FROM notifications
		WHERE sent_at IS NOT NULL
		  AND acknowledged_at IS NULL
		  AND lapsed_at IS NULL
		  AND next_escalation_at IS NOT NULL
		  AND next_escalation_at <= ?
		ORDER BY next_escalation_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due escalations: %w", err)
	}
	defer rows.Close()

	var due []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		due = append(due, n)
	}
	return due, rows.Err()
}

// UnsentNotifications returns recorded notifications whose delivery
// never succeeded. The scheduler retries these each poll so a transport
// outage delays a notification instead of dropping it.
func (db *DB) UnsentNotifications() ([]*Notification, error) {
	rows, err := db.conn.Query("SELECT"+notificationColumns+` FROM notifications
		WHERE sent_at IS NULL
		  AND acknowledged_at IS NULL
		  AND lapsed_at IS NULL
		ORDER BY scheduled_for`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent notifications: %w", err)
	}
	defer rows.Close()

	var unsent []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		unsent = append(unsent, n)
	}
	return unsent, rows.Err()
}

// NotificationExists reports whether a record of the given type already
// exists for an exact scheduled occurrence. The startup reconcile uses
// this to avoid double-firing a job whose window already elapsed.
func (db *DB) NotificationExists(notType, scheduledFor string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM notifications
		WHERE type = ? AND scheduled_for = ?`, notType, scheduledFor).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check notification existence: %w", err)
	}
	return n > 0, nil
}

// LatestUnacknowledged returns the most recently sent notification that is
// still awaiting acknowledgment, or nil. The chat router uses it to tie a
// user reply back to the notification it answers.
func (db *DB) LatestUnacknowledged() (*Notification, error) {
	n, err := scanNotification(db.conn.QueryRow(
		"SELECT" + notificationColumns + ` FROM notifications
		WHERE sent_at IS NOT NULL AND acknowledged_at IS NULL AND lapsed_at IS NULL
		ORDER BY sent_at DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unacknowledged notifications: %w", err)
	}
	return n, nil
}
