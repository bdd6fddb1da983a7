package index

import (
	"database/sql"
	"fmt"

	"github.com/steward-bot/steward/internal/vault"
)

// FilePath returns the current file location recorded for an entity, or ""
// when the entity is not indexed. The path is a hint for locating the
// file quickly; callers must re-verify against the vault because identity
// is the id, not the path.
func (db *DB) FilePath(kind vault.Kind, id string) (string, error) {
	table, ok := map[vault.Kind]string{
		vault.KindTask:     "tasks",
		vault.KindProject:  "projects",
		vault.KindPerson:   "people",
		vault.KindDailyLog: "daily_logs",
	}[kind]
	if !ok {
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	var path string
	err := db.conn.QueryRow("SELECT file_path FROM "+table+" WHERE id = ?", id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %s %s: %w", kind, id, err)
	}
	return path, nil
}

const taskColumns = `
	id, title, status, priority, created_at, updated_at,
	COALESCE(completed_at, ''), COALESCE(due_date, ''),
	COALESCE(project_id, ''), COALESCE(project_name, ''),
	COALESCE(time_estimate_minutes, 0), COALESCE(time_estimate_source, ''),
	COALESCE(time_actual_minutes, 0), COALESCE(calendar_event_id, ''),
	COALESCE(scheduled_start, ''), COALESCE(scheduled_end, ''),
	COALESCE(context, ''), file_path`

func (db *DB) scanTask(row interface{ Scan(...any) error }) (*vault.Task, error) {
	var t vault.Task
	err := row.Scan(
		&t.ID, &t.Title, &t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt,
		&t.CompletedAt, &t.DueDate, &t.ProjectID, &t.ProjectName,
		&t.TimeEstimateMinutes, &t.TimeEstimateSource, &t.TimeActualMinutes,
		&t.CalendarEventID, &t.ScheduledStart, &t.ScheduledEnd,
		&t.Context, &t.FilePath)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// loadTaskRelations fills in the join-table fields for a task.
func (db *DB) loadTaskRelations(t *vault.Task) error {
	queries := []struct {
		sql  string
		dest *[]string
	}{
		{"SELECT tag FROM task_tags WHERE task_id = ? ORDER BY tag", &t.Tags},
		{"SELECT person_id FROM task_people WHERE task_id = ? ORDER BY person_id", &t.PeopleIDs},
		{"SELECT child_id FROM task_subtasks WHERE parent_id = ? ORDER BY child_id", &t.SubtaskIDs},
	}
	for _, q := range queries {
		rows, err := db.conn.Query(q.sql, t.ID)
		if err != nil {
			return fmt.Errorf("failed to load relations for task %s: %w", t.ID, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan relation for task %s: %w", t.ID, err)
			}
			*q.dest = append(*q.dest, v)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to load relations for task %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetTask returns a task with its relationship rows resolved, or nil when
// the id is unknown.
func (db *DB) GetTask(id string) (*vault.Task, error) {
	t, err := db.scanTask(db.conn.QueryRow("SELECT"+taskColumns+" FROM tasks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	if err := db.loadTaskRelations(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) queryTasks(query string, args ...any) ([]*vault.Task, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*vault.Task
	for rows.Next() {
		t, err := db.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	for _, t := range tasks {
		if err := db.loadTaskRelations(t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// TasksByStatus lists tasks with the given status, most urgent first.
func (db *DB) TasksByStatus(status string) ([]*vault.Task, error) {
	return db.queryTasks("SELECT"+taskColumns+` FROM tasks WHERE status = ?
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0 WHEN 'high' THEN 1
			WHEN 'medium' THEN 2 ELSE 3 END,
		due_date IS NULL, due_date, created_at`, status)
}

// TasksDueBy lists non-completed tasks whose due date is on or before the
// given YYYY-MM-DD date.
func (db *DB) TasksDueBy(date string) ([]*vault.Task, error) {
	return db.queryTasks("SELECT"+taskColumns+` FROM tasks
		WHERE status != ? AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY due_date, created_at`, vault.TaskStatusCompleted, date)
}

// TaskByCalendarEvent resolves an externally created or modified calendar
// event back to its task, or nil when no task carries the event id.
func (db *DB) TaskByCalendarEvent(eventID string) (*vault.Task, error) {
	t, err := db.scanTask(db.conn.QueryRow(
		"SELECT"+taskColumns+" FROM tasks WHERE calendar_event_id = ?", eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up calendar event %s: %w", eventID, err)
	}
	if err := db.loadTaskRelations(t); err != nil {
		return nil, err
	}
	return t, nil
}

// EstimateHistory returns completed tasks carrying both an estimate and an
// actual duration, newest first, for feeding the time estimator.
func (db *DB) EstimateHistory(limit int) ([]*vault.Task, error) {
	return db.queryTasks("SELECT"+taskColumns+` FROM tasks
		WHERE status = ? AND time_estimate_minutes IS NOT NULL
		  AND time_actual_minutes IS NOT NULL
		ORDER BY completed_at DESC LIMIT ?`, vault.TaskStatusCompleted, limit)
}

// CountsByKind returns the number of indexed entities per kind.
func (db *DB) CountsByKind() (map[vault.Kind]int, error) {
	counts := make(map[vault.Kind]int, len(vault.Kinds))
	tables := map[vault.Kind]string{
		vault.KindTask:     "tasks",
		vault.KindProject:  "projects",
		vault.KindPerson:   "people",
		vault.KindDailyLog: "daily_logs",
	}
	for kind, table := range tables {
		var n int
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[kind] = n
	}
	return counts, nil
}

// GetDailyLogByDate returns the daily log row for a YYYY-MM-DD date, or
// nil when no log exists yet.
func (db *DB) GetDailyLogByDate(date string) (*vault.DailyLog, error) {
	var l vault.DailyLog
	err := db.conn.QueryRow(`
		SELECT id, date, created_at,
			COALESCE(morning_checkin_at, ''), COALESCE(evening_review_at, ''),
			total_planned_minutes, total_actual_minutes,
			COALESCE(energy_level_morning, 0), COALESCE(energy_level_evening, 0),
			file_path
		FROM daily_logs WHERE date = ?`, date).Scan(
		&l.ID, &l.Date, &l.CreatedAt, &l.MorningCheckinAt, &l.EveningReviewAt,
		&l.TotalPlannedMinutes, &l.TotalActualMinutes,
		&l.EnergyLevelMorning, &l.EnergyLevelEvening, &l.FilePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily log for %s: %w", date, err)
	}
	return &l, nil
}

// GetPersonByName returns the person with the given name, matched
// case-insensitively, or nil when nobody in the vault goes by it.
func (db *DB) GetPersonByName(name string) (*vault.Person, error) {
	var p vault.Person
	err := db.conn.QueryRow(`
		SELECT id, name, COALESCE(role, ''), COALESCE(company, ''),
			COALESCE(email, ''), COALESCE(phone, ''), created_at, updated_at,
			COALESCE(last_contact, ''), COALESCE(contact_frequency_days, 0),
			file_path
		FROM people WHERE name = ? COLLATE NOCASE LIMIT 1`, name).Scan(
		&p.ID, &p.Name, &p.Role, &p.Company, &p.Email,
		&p.Phone, &p.CreatedAt, &p.UpdatedAt, &p.LastContact,
		&p.ContactFrequencyDays, &p.FilePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person %q: %w", name, err)
	}
	return &p, nil
}

// PeopleDueForContact lists people whose last contact is older than their
// configured contact frequency as of the given YYYY-MM-DD date.
func (db *DB) PeopleDueForContact(date string) ([]*vault.Person, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, COALESCE(role, ''), COALESCE(company, ''),
			COALESCE(email, ''), COALESCE(phone, ''), created_at, updated_at,
			COALESCE(last_contact, ''), COALESCE(contact_frequency_days, 0),
			file_path
		FROM people
		WHERE contact_frequency_days IS NOT NULL
		  AND (last_contact IS NULL
			OR date(last_contact, '+' || contact_frequency_days || ' days') <= ?)
		ORDER BY last_contact`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query people due for contact: %w", err)
	}
	defer rows.Close()

	var people []*vault.Person
	for rows.Next() {
		var p vault.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.Company, &p.Email,
			&p.Phone, &p.CreatedAt, &p.UpdatedAt, &p.LastContact,
			&p.ContactFrequencyDays, &p.FilePath); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, &p)
	}
	return people, rows.Err()
}
