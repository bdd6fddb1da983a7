package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steward-bot/steward/internal/vault"
)

// entityTables lists every table cleared by a full rebuild, entity rows and
// their join rows together. Session, notification, and mirror state are
// process state, not vault projections, and survive rebuilds.
var entityTables = []string{
	"task_tags", "task_people", "task_subtasks", "project_people",
	"tasks", "projects", "people", "daily_logs",
}

// ReplaceAll discards every entity row and re-inserts the given vault
// files inside a single transaction. Readers observe either the previous
// index or the new one; if ctx is cancelled before commit the old index
// is left untouched.
func (db *DB) ReplaceAll(ctx context.Context, files []vault.File) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range entityTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, f := range files {
		if err := upsertFileTx(tx, f); err != nil {
			return err
		}
	}

	// A superseded rebuild must abort here rather than clobber the
	// result of the rebuild that replaced it.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return nil
}

// UpsertFile projects a single vault file into the index, replacing any
// previous row and relationship rows for the same identifier.
func (db *DB) UpsertFile(ctx context.Context, f vault.File) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertFileTx(tx, f); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

func upsertFileTx(tx *sql.Tx, f vault.File) error {
	switch f.Doc.Kind {
	case vault.KindTask:
		return upsertTaskTx(tx, vault.DecodeTask(f))
	case vault.KindProject:
		return upsertProjectTx(tx, vault.DecodeProject(f))
	case vault.KindPerson:
		return upsertPersonTx(tx, vault.DecodePerson(f))
	case vault.KindDailyLog:
		return upsertDailyLogTx(tx, vault.DecodeDailyLog(f))
	}
	return fmt.Errorf("unknown kind %q for %s", f.Doc.Kind, f.Path)
}

// DeleteEntity removes an entity row and its relationship rows. Used when
// a mirror pull or watcher event reports a deleted file.
func (db *DB) DeleteEntity(ctx context.Context, kind vault.Kind, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := map[vault.Kind][]string{
		vault.KindTask: {
			"DELETE FROM task_tags WHERE task_id = ?",
			"DELETE FROM task_people WHERE task_id = ?",
			"DELETE FROM task_subtasks WHERE parent_id = ?",
			"DELETE FROM tasks WHERE id = ?",
		},
		vault.KindProject: {
			"DELETE FROM project_people WHERE project_id = ?",
			"DELETE FROM projects WHERE id = ?",
		},
		vault.KindPerson:   {"DELETE FROM people WHERE id = ?"},
		vault.KindDailyLog: {"DELETE FROM daily_logs WHERE id = ?"},
	}
	queries, ok := stmts[kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func upsertTaskTx(tx *sql.Tx, t *vault.Task) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO tasks (
			id, title, status, priority, created_at, updated_at,
			completed_at, due_date, project_id, project_name,
			time_estimate_minutes, time_estimate_source, time_actual_minutes,
			calendar_event_id, scheduled_start, scheduled_end, context, file_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Status, t.Priority, t.CreatedAt, t.UpdatedAt,
		nullable(t.CompletedAt), nullable(t.DueDate), nullable(t.ProjectID),
		nullable(t.ProjectName), nullableInt(t.TimeEstimateMinutes),
		nullable(t.TimeEstimateSource), nullableInt(t.TimeActualMinutes),
		nullable(t.CalendarEventID), nullable(t.ScheduledStart),
		nullable(t.ScheduledEnd), nullable(t.Context), t.FilePath)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}

	// Relationship rows have no independent lifecycle: they are replaced
	// atomically with the owning entity.
	for _, q := range []string{
		"DELETE FROM task_tags WHERE task_id = ?",
		"DELETE FROM task_people WHERE task_id = ?",
		"DELETE FROM task_subtasks WHERE parent_id = ?",
	} {
		if _, err := tx.Exec(q, t.ID); err != nil {
			return fmt.Errorf("failed to clear relations for task %s: %w", t.ID, err)
		}
	}
	for _, tag := range t.Tags {
		if _, err := tx.Exec("INSERT OR IGNORE INTO task_tags (task_id, tag) VALUES (?, ?)", t.ID, tag); err != nil {
			return fmt.Errorf("failed to insert tag for task %s: %w", t.ID, err)
		}
	}
	for _, pid := range t.PeopleIDs {
		if _, err := tx.Exec("INSERT OR IGNORE INTO task_people (task_id, person_id) VALUES (?, ?)", t.ID, pid); err != nil {
			return fmt.Errorf("failed to insert person link for task %s: %w", t.ID, err)
		}
	}
	for _, sid := range t.SubtaskIDs {
		if _, err := tx.Exec("INSERT OR IGNORE INTO task_subtasks (parent_id, child_id) VALUES (?, ?)", t.ID, sid); err != nil {
			return fmt.Errorf("failed to insert subtask link for task %s: %w", t.ID, err)
		}
	}
	return nil
}

func upsertProjectTx(tx *sql.Tx, p *vault.Project) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO projects (
			id, title, status, created_at, updated_at, deadline, file_path
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Status, p.CreatedAt, p.UpdatedAt,
		nullable(p.Deadline), p.FilePath)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.ID, err)
	}
	if _, err := tx.Exec("DELETE FROM project_people WHERE project_id = ?", p.ID); err != nil {
		return fmt.Errorf("failed to clear relations for project %s: %w", p.ID, err)
	}
	for _, pid := range p.PeopleIDs {
		if _, err := tx.Exec("INSERT OR IGNORE INTO project_people (project_id, person_id) VALUES (?, ?)", p.ID, pid); err != nil {
			return fmt.Errorf("failed to insert person link for project %s: %w", p.ID, err)
		}
	}
	return nil
}

func upsertPersonTx(tx *sql.Tx, p *vault.Person) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO people (
			id, name, role, company, email, phone, created_at, updated_at,
			last_contact, contact_frequency_days, file_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullable(p.Role), nullable(p.Company), nullable(p.Email),
		nullable(p.Phone), p.CreatedAt, p.UpdatedAt, nullable(p.LastContact),
		nullableInt(p.ContactFrequencyDays), p.FilePath)
	if err != nil {
		return fmt.Errorf("failed to upsert person %s: %w", p.ID, err)
	}
	return nil
}

func upsertDailyLogTx(tx *sql.Tx, l *vault.DailyLog) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO daily_logs (
			id, date, created_at, morning_checkin_at, evening_review_at,
			total_planned_minutes, total_actual_minutes,
			energy_level_morning, energy_level_evening, file_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Date, l.CreatedAt, nullable(l.MorningCheckinAt),
		nullable(l.EveningReviewAt), l.TotalPlannedMinutes, l.TotalActualMinutes,
		nullableInt(l.EnergyLevelMorning), nullableInt(l.EnergyLevelEvening),
		l.FilePath)
	if err != nil {
		return fmt.Errorf("failed to upsert daily log %s: %w", l.ID, err)
	}
	return nil
}
