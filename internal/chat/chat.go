// Package chat routes inbound user messages. A message is interpreted
// against what is currently going on: an unacknowledged notification, a
// live conversational session, a command, or a brand-new task request.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/steward-bot/steward/internal/assist"
	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/schedule"
	"github.com/steward-bot/steward/internal/session"
	"github.com/steward-bot/steward/internal/syncer"
	"github.com/steward-bot/steward/internal/vault"
)

// Inbound is one message from the user.
type Inbound struct {
	UserID int64
	ChatID int64
	Text   string
}

// Responder delivers replies back to whatever chat surface the user is
// on. The dashboard's websocket hub implements this.
type Responder interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Router interprets inbound messages.
type Router struct {
	db       *index.DB
	sync     *syncer.Syncer
	sessions *session.Manager
	sched    *schedule.Scheduler
	parser   assist.Parser
	est      assist.Estimator
	summ     assist.Summarizer
	logger   *log.Logger
	now      func() time.Time
}

// New creates a Router.
func New(db *index.DB, sync *syncer.Syncer, sessions *session.Manager,
	sched *schedule.Scheduler, parser assist.Parser, est assist.Estimator,
	summ assist.Summarizer, logger *log.Logger) *Router {
	return &Router{
		db: db, sync: sync, sessions: sessions, sched: sched,
		parser: parser, est: est, summ: summ, logger: logger,
		now: time.Now,
	}
}

// Handle interprets one message and returns the reply text.
func (r *Router) Handle(ctx context.Context, msg Inbound) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "Say something and I'll make a task of it.", nil
	}

	lower := strings.ToLower(text)
	switch {
	case lower == "today" || lower == "list":
		return r.listToday()
	case lower == "done" || strings.HasPrefix(lower, "done "):
		return r.complete(ctx, strings.TrimSpace(text[4:]))
	}

	// A reply while a notification is waiting settles it.
	if r.sched != nil {
		pending, err := r.db.LatestUnacknowledged()
		if err != nil {
			return "", err
		}
		if pending != nil {
			return r.acknowledge(ctx, msg, pending, text)
		}
	}

	return r.createTask(ctx, msg, text)
}

func (r *Router) listToday() (string, error) {
	today := r.now().Format("2006-01-02")
	due, err := r.db.TasksDueBy(today)
	if err != nil {
		return "", err
	}
	active, err := r.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "Nothing on the list. Enjoy it.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d active, %d due today:\n", len(active), len(due))
	for i, t := range active {
		if i == 10 {
			fmt.Fprintf(&b, "...and %d more", len(active)-10)
			break
		}
		line := fmt.Sprintf("- %s [%s]", t.Title, t.Priority)
		if t.DueDate != "" {
			line += " due " + t.DueDate
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// complete marks the task matching the given fragment as done. Exact id
// wins; otherwise a unique case-insensitive title match is required, so
// "done report" can never silently close the wrong one of two reports.
func (r *Router) complete(ctx context.Context, fragment string) (string, error) {
	if fragment == "" {
		return "Done with what? Give me part of the title.", nil
	}

	task, err := r.db.GetTask(fragment)
	if err != nil {
		return "", err
	}
	if task == nil {
		active, err := r.db.TasksByStatus(vault.TaskStatusActive)
		if err != nil {
			return "", err
		}
		var matches []*vault.Task
		for _, t := range active {
			if strings.Contains(strings.ToLower(t.Title), strings.ToLower(fragment)) {
				matches = append(matches, t)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Sprintf("No active task matches %q.", fragment), nil
		case 1:
			task = matches[0]
		default:
			var b strings.Builder
			fmt.Fprintf(&b, "%q matches %d tasks, be more specific:\n", fragment, len(matches))
			for _, t := range matches {
				fmt.Fprintf(&b, "- %s\n", t.Title)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		}
	}

	now := r.now()
	_, err = r.sync.UpdateEntity(ctx, vault.KindTask, task.ID, func(doc *vault.Document) error {
		doc.Set("status", vault.TaskStatusCompleted)
		doc.Set("completed_at", vault.Timestamp(now))
		if started := doc.String("scheduled_start"); started != "" && doc.Int("time_actual_minutes") == 0 {
			if st, err := time.Parse(time.RFC3339, started); err == nil && now.After(st) {
				doc.Set("time_actual_minutes", int(now.Sub(st).Minutes()))
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Done: %s", task.Title), nil
}

// acknowledge settles a waiting notification with the user's reply and
// stamps the daily log for check-ins and reviews.
func (r *Router) acknowledge(ctx context.Context, msg Inbound, pending *index.Notification, text string) (string, error) {
	summary := text
	if s, err := r.summ.Summarize(ctx, text); err == nil && s != "" {
		summary = s
	}

	if _, err := r.sched.Acknowledge(summary); err != nil {
		return "", err
	}

	now := r.now()
	switch pending.Type {
	case schedule.TypeMorningCheckin:
		if err := StampDailyLog(ctx, r.sync, now, "morning_checkin_at", summary); err != nil {
			return "", err
		}
		return "Morning logged. Go get it.", nil
	case schedule.TypeEveningReview:
		if err := StampDailyLog(ctx, r.sync, now, "evening_review_at", summary); err != nil {
			return "", err
		}
		return "Review saved. See you tomorrow.", nil
	}
	return "Noted.", nil
}

// StampDailyLog records a check-in or review on today's log, creating
// the log file on first touch of the day.
func StampDailyLog(ctx context.Context, sync *syncer.Syncer, now time.Time, field, summary string) error {
	date := now.Format("2006-01-02")
	id := "log-" + date

	entry := fmt.Sprintf("- %s %s\n", now.Format("15:04"), summary)
	_, err := sync.UpdateEntity(ctx, vault.KindDailyLog, id, func(doc *vault.Document) error {
		doc.Set(field, vault.Timestamp(now))
		doc.Body += entry
		return nil
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, syncer.ErrNotFound) {
		return err
	}

	doc := vault.NewDailyLog(date, now)
	doc.Set(field, vault.Timestamp(now))
	doc.Body = entry
	_, err = sync.CreateEntity(ctx, doc)
	return err
}

// resolvePeople maps mentioned names to person ids, creating a person
// file for anyone the vault does not know yet.
func (r *Router) resolvePeople(ctx context.Context, names []string) ([]string, error) {
	var ids []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		person, err := r.db.GetPersonByName(name)
		if err != nil {
			return nil, err
		}
		if person != nil {
			ids = append(ids, person.ID)
			continue
		}
		doc := vault.NewDocument(vault.KindPerson, r.now())
		doc.Set("name", name)
		if _, err := r.sync.CreateEntity(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to create person %q: %w", name, err)
		}
		r.logger.Printf("[chat] created person %s for %q", doc.ID, name)
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// taskDraft is the session payload accumulated across a multi-message
// task creation exchange.
type taskDraft struct {
	Text string `json:"text"`
}

// createTask turns free text into a task. An unclear message opens a
// session so the follow-up can be combined with what was already said;
// the session's bounds keep an aimless exchange from living forever.
func (r *Router) createTask(ctx context.Context, msg Inbound, text string) (string, error) {
	st, err := r.sessions.Touch(msg.UserID, msg.ChatID, session.ContextTaskCreation, "")
	if err != nil {
		return "", err
	}

	full := text
	if !st.Fresh && st.ContextData != "" {
		var draft taskDraft
		if json.Unmarshal([]byte(st.ContextData), &draft) == nil && draft.Text != "" {
			full = draft.Text + " " + text
		}
	}

	parsed, err := r.parser.ParseTask(ctx, full, r.now())
	if err != nil {
		// Keep what was said and ask for the rest.
		data, _ := json.Marshal(taskDraft{Text: full})
		if err := r.sessions.SetData(msg.UserID, session.ContextTaskCreation, string(data)); err != nil {
			r.logger.Printf("[chat] failed to stash draft: %v", err)
		}
		if st.Superseded {
			return "Let's start over. What's the task?", nil
		}
		return "I couldn't make a task out of that. What needs doing, and by when?", nil
	}

	doc := vault.NewDocument(vault.KindTask, r.now())
	doc.Set("title", parsed.Title)
	doc.Set("status", vault.TaskStatusActive)
	doc.Set("priority", parsed.Priority)
	if parsed.Due != "" {
		doc.Set("due_date", parsed.Due)
	}
	if len(parsed.Tags) > 0 {
		doc.Set("tags", parsed.Tags)
	}
	if parsed.Context != "" {
		doc.Set("context", parsed.Context)
	}
	if len(parsed.People) > 0 {
		ids, err := r.resolvePeople(ctx, parsed.People)
		if err != nil {
			return "", err
		}
		if len(ids) > 0 {
			doc.Set("people_ids", ids)
		}
	}

	estimate := parsed.EstimateMinutes
	source := "user"
	if estimate <= 0 {
		history, err := r.db.EstimateHistory(20)
		if err == nil {
			if m, s, err := r.est.Estimate(ctx, parsed.Title, history); err == nil {
				estimate, source = m, s
			}
		}
	}
	if estimate > 0 {
		doc.Set("time_estimate_minutes", estimate)
		doc.Set("time_estimate_source", source)
	}

	if _, err := r.sync.CreateEntity(ctx, doc); err != nil {
		return "", err
	}
	if err := r.sessions.Complete(msg.UserID, session.ContextTaskCreation); err != nil {
		r.logger.Printf("[chat] failed to close session: %v", err)
	}

	reply := fmt.Sprintf("Created: %s [%s]", parsed.Title, parsed.Priority)
	if parsed.Due != "" {
		reply += ", due " + parsed.Due
	}
	if estimate > 0 {
		reply += fmt.Sprintf(", ~%dm", estimate)
	}
	return reply, nil
}
