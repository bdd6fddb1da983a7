// Package calendar keeps tasks and calendar events in step. A task with
// a time estimate can be blocked into the calendar; events moved or
// deleted out from under us are reconciled back onto their tasks, keyed
// by the event id stored in the task's front matter.
package calendar

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/syncer"
	"github.com/steward-bot/steward/internal/vault"
)

// Event is one calendar entry.
type Event struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// Slot is a free window big enough to block a task into.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Service is the calendar backend. Implementations wrap whatever
// calendar the user actually lives in.
type Service interface {
	CreateEvent(ctx context.Context, ev Event) (id string, err error)
	UpdateEvent(ctx context.Context, ev Event) error
	DeleteEvent(ctx context.Context, id string) error
	// ListEvents returns events overlapping [from, to).
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	// FindSlots returns the gaps of at least d between events in
	// [from, to), earliest first.
	FindSlots(ctx context.Context, d time.Duration, from, to time.Time) ([]Slot, error)
}

// Manager links tasks to calendar events.
type Manager struct {
	svc    Service
	db     *index.DB
	sync   *syncer.Syncer
	logger *log.Logger
	now    func() time.Time
}

// New creates a calendar manager.
func New(svc Service, db *index.DB, sync *syncer.Syncer, logger *log.Logger) *Manager {
	return &Manager{svc: svc, db: db, sync: sync, logger: logger, now: time.Now}
}

// ScheduleTask blocks a task into the calendar at start, sized by its
// time estimate (defaulting to half an hour), and records the event id
// on the task.
func (m *Manager) ScheduleTask(ctx context.Context, taskID string, start time.Time) error {
	task, err := m.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, syncer.ErrNotFound)
	}

	minutes := task.TimeEstimateMinutes
	if minutes <= 0 {
		minutes = 30
	}
	end := start.Add(time.Duration(minutes) * time.Minute)

	if task.CalendarEventID != "" {
		err := m.svc.UpdateEvent(ctx, Event{
			ID: task.CalendarEventID, Title: task.Title, Start: start, End: end,
		})
		if err != nil {
			return fmt.Errorf("failed to move event for task %s: %w", taskID, err)
		}
		return m.stamp(ctx, taskID, task.CalendarEventID, start, end)
	}

	eventID, err := m.svc.CreateEvent(ctx, Event{Title: task.Title, Start: start, End: end})
	if err != nil {
		return fmt.Errorf("failed to create event for task %s: %w", taskID, err)
	}
	return m.stamp(ctx, taskID, eventID, start, end)
}

func (m *Manager) stamp(ctx context.Context, taskID, eventID string, start, end time.Time) error {
	_, err := m.sync.UpdateEntity(ctx, vault.KindTask, taskID, func(doc *vault.Document) error {
		doc.Set("calendar_event_id", eventID)
		doc.Set("scheduled_start", vault.Timestamp(start))
		doc.Set("scheduled_end", vault.Timestamp(end))
		return nil
	})
	return err
}

// FindSlots returns free windows of at least d within [from, to).
func (m *Manager) FindSlots(ctx context.Context, d time.Duration, from, to time.Time) ([]Slot, error) {
	return m.svc.FindSlots(ctx, d, from, to)
}

// Unschedule removes a task's calendar block.
func (m *Manager) Unschedule(ctx context.Context, taskID string) error {
	task, err := m.db.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, syncer.ErrNotFound)
	}
	if task.CalendarEventID == "" {
		return nil
	}
	if err := m.svc.DeleteEvent(ctx, task.CalendarEventID); err != nil {
		return fmt.Errorf("failed to delete event for task %s: %w", taskID, err)
	}
	_, err = m.sync.UpdateEntity(ctx, vault.KindTask, taskID, func(doc *vault.Document) error {
		doc.Set("calendar_event_id", "")
		doc.Set("scheduled_start", "")
		doc.Set("scheduled_end", "")
		return nil
	})
	return err
}

// Reconcile pulls the next week of events and folds external changes
// back onto their tasks: a moved event updates the task's scheduled
// window, a vanished event clears it. Tasks are matched by the stored
// event id; events the assistant never created are ignored.
func (m *Manager) Reconcile(ctx context.Context) error {
	now := m.now()
	events, err := m.svc.ListEvents(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 7))
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	seen := make(map[string]Event, len(events))
	for _, ev := range events {
		seen[ev.ID] = ev
	}

	scheduled, err := m.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		return err
	}
	for _, task := range scheduled {
		if task.CalendarEventID == "" {
			continue
		}
		ev, ok := seen[task.CalendarEventID]
		if !ok {
			// Only treat absence as deletion when the stored window is
			// inside the range we listed.
			start, err := time.Parse(time.RFC3339, task.ScheduledStart)
			if err != nil || start.Before(now.AddDate(0, 0, -1)) || !start.Before(now.AddDate(0, 0, 7)) {
				continue
			}
			m.logger.Printf("[calendar] event for task %s deleted externally, unscheduling", task.ID)
			_, err = m.sync.UpdateEntity(ctx, vault.KindTask, task.ID, func(doc *vault.Document) error {
				doc.Set("calendar_event_id", "")
				doc.Set("scheduled_start", "")
				doc.Set("scheduled_end", "")
				return nil
			})
			if err != nil {
				return err
			}
			continue
		}

		if vault.Timestamp(ev.Start) != task.ScheduledStart || vault.Timestamp(ev.End) != task.ScheduledEnd {
			m.logger.Printf("[calendar] event for task %s moved externally, updating", task.ID)
			_, err := m.sync.UpdateEntity(ctx, vault.KindTask, task.ID, func(doc *vault.Document) error {
				doc.Set("scheduled_start", vault.Timestamp(ev.Start))
				doc.Set("scheduled_end", vault.Timestamp(ev.End))
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
