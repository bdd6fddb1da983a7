// Package schedule fires the recurring check-ins and drives the
// escalation ladder for unacknowledged notifications. All timer state
// lives in the index database, so a restart resumes exactly where the
// previous process stopped instead of double-firing or losing reminders.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/notify"
)

// Notification types produced by the default jobs.
const (
	TypeMorningCheckin  = "morning_checkin"
	TypeEveningReview   = "evening_review"
	TypePeriodicCheckin = "periodic_checkin"
)

// Job is a recurring notification source.
type Job struct {
	Type string
	// Next returns the first occurrence strictly after t.
	Next func(t time.Time) time.Time
	// Escalate arms the reminder ladder when the notification goes
	// unacknowledged.
	Escalate bool
}

// dailyAt returns a schedule firing every day at the given local time.
func dailyAt(hour, min int, loc *time.Location) func(time.Time) time.Time {
	return func(t time.Time) time.Time {
		t = t.In(loc)
		next := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, loc)
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// periodic returns a schedule firing every interval on the hour grid
// between startHour and endHour, weekdays only.
func periodic(interval time.Duration, startHour, endHour int, loc *time.Location) func(time.Time) time.Time {
	return func(t time.Time) time.Time {
		t = t.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		for {
			candidate := day.Add(time.Duration(startHour) * time.Hour)
			for candidate.Day() == day.Day() && candidate.Hour() <= endHour {
				if candidate.After(t) && withinWindow(candidate, startHour, endHour) {
					return candidate
				}
				candidate = candidate.Add(interval)
			}
			day = day.AddDate(0, 0, 1)
		}
	}
}

func withinWindow(t time.Time, startHour, endHour int) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= startHour && t.Hour() <= endHour
}

// DefaultJobs returns the standard cadence: a morning check-in, an
// evening review, and a work-hours nudge every two hours on weekdays.
func DefaultJobs(loc *time.Location) []Job {
	return []Job{
		{Type: TypeMorningCheckin, Next: dailyAt(7, 0, loc), Escalate: true},
		{Type: TypeEveningReview, Next: dailyAt(21, 30, loc), Escalate: true},
		{Type: TypePeriodicCheckin, Next: periodic(2*time.Hour, 9, 17, loc)},
	}
}

// JobsAt builds the standard three jobs with configured times. The
// check-in and review are "HH:MM" clock times in loc.
func JobsAt(loc *time.Location, morning, evening string, interval time.Duration, startHour, endHour int) ([]Job, error) {
	mh, mm, err := parseClock(morning)
	if err != nil {
		return nil, fmt.Errorf("invalid morning check-in time: %w", err)
	}
	eh, em, err := parseClock(evening)
	if err != nil {
		return nil, fmt.Errorf("invalid evening review time: %w", err)
	}
	return []Job{
		{Type: TypeMorningCheckin, Next: dailyAt(mh, mm, loc), Escalate: true},
		{Type: TypeEveningReview, Next: dailyAt(eh, em, loc), Escalate: true},
		{Type: TypePeriodicCheckin, Next: periodic(interval, startHour, endHour, loc)},
	}, nil
}

func parseClock(hhmm string) (int, int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// Composer renders the notification content for a job occurrence.
type Composer interface {
	Compose(ctx context.Context, jobType string, now time.Time) (notify.Message, error)
}

// Config holds scheduler settings.
type Config struct {
	// Poll is how often due jobs and escalations are checked.
	Poll time.Duration
	// ReconcileGrace is how far past a missed occurrence the startup
	// reconcile will still fire it. Older occurrences are skipped: a
	// morning check-in delivered at dinner helps nobody.
	ReconcileGrace time.Duration
	// EscalationDelays are the waits before each reminder step. The
	// first entry arms when the notification is sent; after the last
	// reminder the notification lapses.
	EscalationDelays []time.Duration
	// EscalationPriorities are the ntfy priorities per reminder step.
	EscalationPriorities []string
}

// DefaultConfig returns the standard escalation ladder: a reminder at
// high priority after 5 minutes, another at urgent after 10 more, lapse
// after 15 more.
func DefaultConfig() Config {
	return Config{
		Poll:                 30 * time.Second,
		ReconcileGrace:       10 * time.Minute,
		EscalationDelays:     []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute},
		EscalationPriorities: []string{notify.PriorityHigh, notify.PriorityUrgent},
	}
}

// Scheduler fires jobs and escalates unacknowledged notifications.
type Scheduler struct {
	cfg       Config
	jobs      []Job
	db        *index.DB
	transport notify.Transport
	composer  Composer
	logger    *log.Logger
	now       func() time.Time

	nextFire map[string]time.Time
}

// New creates a scheduler.
func New(cfg Config, jobs []Job, db *index.DB, transport notify.Transport, composer Composer, logger *log.Logger) *Scheduler {
	if cfg.Poll <= 0 {
		cfg.Poll = 30 * time.Second
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = 10 * time.Minute
	}
	if len(cfg.EscalationDelays) == 0 {
		cfg.EscalationDelays = DefaultConfig().EscalationDelays
	}
	if len(cfg.EscalationPriorities) == 0 {
		cfg.EscalationPriorities = DefaultConfig().EscalationPriorities
	}
	// The ladder needs one more delay than priorities: each reminder
	// step arms the wait before the next, and the final delay is the
	// wait before the notification lapses.
	if len(cfg.EscalationDelays) != len(cfg.EscalationPriorities)+1 {
		logger.Printf("[schedule] escalation ladder misconfigured (%d delays for %d priorities), using defaults",
			len(cfg.EscalationDelays), len(cfg.EscalationPriorities))
		cfg.EscalationDelays = DefaultConfig().EscalationDelays
		cfg.EscalationPriorities = DefaultConfig().EscalationPriorities
	}
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		db:        db,
		transport: transport,
		composer:  composer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run reconciles missed occurrences and then polls until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		s.logger.Printf("[schedule] reconcile failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Reconcile handles the gap between process runs. For each job the most
// recent occurrence is checked against the database: already recorded or
// older than the grace window means skip; recent and unrecorded means
// fire late. Future occurrences are armed for the poll loop.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	now := s.now()
	s.nextFire = make(map[string]time.Time, len(s.jobs))
	for _, job := range s.jobs {
		s.nextFire[job.Type] = job.Next(now)

		last := lastOccurrence(job, now)
		if last.IsZero() {
			continue
		}
		exists, err := s.db.NotificationExists(job.Type, last.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if now.Sub(last) > s.cfg.ReconcileGrace {
			s.logger.Printf("[schedule] skipping stale %s occurrence at %s", job.Type, last.Format(time.RFC3339))
			continue
		}
		s.logger.Printf("[schedule] firing missed %s occurrence at %s", job.Type, last.Format(time.RFC3339))
		if err := s.fire(ctx, job, last); err != nil {
			s.logger.Printf("[schedule] missed %s occurrence failed: %v", job.Type, err)
		}
	}
	return nil
}

// lastOccurrence finds the newest occurrence at or before now by walking
// the schedule forward from a day earlier.
func lastOccurrence(job Job, now time.Time) time.Time {
	var last time.Time
	t := now.AddDate(0, 0, -1)
	for {
		next := job.Next(t)
		if next.After(now) {
			return last
		}
		last = next
		t = next
	}
}

// Tick fires any due jobs and processes due escalations once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	for _, job := range s.jobs {
		due, ok := s.nextFire[job.Type]
		if !ok {
			due = job.Next(now.Add(-s.cfg.Poll))
			s.nextFire[job.Type] = due
		}
		if now.Before(due) {
			continue
		}
		if err := s.fire(ctx, job, due); err != nil {
			s.logger.Printf("[schedule] %s failed: %v", job.Type, err)
		}
		s.nextFire[job.Type] = job.Next(due)
	}
	if err := s.DeliverUnsent(ctx); err != nil {
		s.logger.Printf("[schedule] unsent delivery failed: %v", err)
	}
	if err := s.EscalateDue(ctx); err != nil {
		s.logger.Printf("[schedule] escalation failed: %v", err)
	}
}

// fire records and delivers one job occurrence. The record is written
// before delivery so a crash between the two never double-sends; a
// record whose delivery failed stays unsent and DeliverUnsent retries
// it on the next poll.
func (s *Scheduler) fire(ctx context.Context, job Job, occurrence time.Time) error {
	scheduledFor := occurrence.UTC().Format(time.RFC3339)
	exists, err := s.db.NotificationExists(job.Type, scheduledFor)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	msg, err := s.composer.Compose(ctx, job.Type, occurrence)
	if err != nil {
		return fmt.Errorf("failed to compose %s: %w", job.Type, err)
	}
	if msg.Priority == "" {
		msg.Priority = notify.PriorityDefault
	}

	n := &index.Notification{
		ID:           ulid.Make().String(),
		Type:         job.Type,
		Priority:     msg.Priority,
		ScheduledFor: scheduledFor,
	}
	if err := s.db.InsertNotification(n); err != nil {
		return err
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to deliver %s: %w", job.Type, err)
	}

	sentAt := s.now()
	var nextEscalation string
	if job.Escalate {
		nextEscalation = sentAt.Add(s.cfg.EscalationDelays[0]).UTC().Format(time.RFC3339)
	}
	if err := s.db.MarkNotificationSent(n.ID, sentAt.UTC().Format(time.RFC3339), nextEscalation); err != nil {
		return err
	}
	s.logger.Printf("[schedule] sent %s (%s)", job.Type, n.ID)
	return nil
}

// DeliverUnsent retries notifications that were recorded but never
// delivered: a transport outage (or a crash between insert and send)
// delays the notification until the next poll instead of dropping it.
func (s *Scheduler) DeliverUnsent(ctx context.Context) error {
	unsent, err := s.db.UnsentNotifications()
	if err != nil {
		return err
	}
	for _, n := range unsent {
		msg, err := s.composer.Compose(ctx, n.Type, s.now())
		if err != nil {
			return fmt.Errorf("failed to compose %s: %w", n.Type, err)
		}
		msg.Priority = n.Priority
		if err := s.transport.Send(ctx, msg); err != nil {
			s.logger.Printf("[schedule] retry of %s (%s) failed, next poll: %v", n.Type, n.ID, err)
			continue
		}

		sentAt := s.now()
		var nextEscalation string
		if s.escalates(n.Type) {
			nextEscalation = sentAt.Add(s.cfg.EscalationDelays[0]).UTC().Format(time.RFC3339)
		}
		if err := s.db.MarkNotificationSent(n.ID, sentAt.UTC().Format(time.RFC3339), nextEscalation); err != nil {
			return err
		}
		s.logger.Printf("[schedule] delivered %s (%s) after retry", n.Type, n.ID)
	}
	return nil
}

func (s *Scheduler) escalates(jobType string) bool {
	for _, job := range s.jobs {
		if job.Type == jobType {
			return job.Escalate
		}
	}
	return false
}

// EscalateDue advances the reminder ladder for every notification whose
// escalation timer has fired. Each step raises the priority and resends;
// after the last step the notification lapses. Priority only ever goes
// up, and an acknowledged notification never escalates again.
func (s *Scheduler) EscalateDue(ctx context.Context) error {
	now := s.now()
	due, err := s.db.EscalationsDue(now.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	for _, n := range due {
		level := n.EscalationLevel + 1
		if level > len(s.cfg.EscalationPriorities) {
			s.logger.Printf("[schedule] %s (%s) lapsed unacknowledged", n.Type, n.ID)
			if err := s.db.MarkNotificationLapsed(n.ID, now.UTC().Format(time.RFC3339)); err != nil {
				return err
			}
			continue
		}

		priority := s.cfg.EscalationPriorities[level-1]
		msg, err := s.composer.Compose(ctx, n.Type, now)
		if err != nil {
			return err
		}
		msg.Title = "Reminder: " + msg.Title
		msg.Priority = priority
		if err := s.transport.Send(ctx, msg); err != nil {
			s.logger.Printf("[schedule] reminder for %s failed, retrying next poll: %v", n.ID, err)
			continue
		}

		next := now.Add(s.cfg.EscalationDelays[level]).UTC().Format(time.RFC3339)
		if err := s.db.UpdateEscalation(n.ID, level, priority, next); err != nil {
			return err
		}
		s.logger.Printf("[schedule] escalated %s (%s) to %s", n.Type, n.ID, priority)
	}
	return nil
}

// Acknowledge settles the most recent unacknowledged notification with
// the user's response, stopping its escalation. Returns the settled
// record, or nil when nothing was awaiting acknowledgment.
func (s *Scheduler) Acknowledge(responseSummary string) (*index.Notification, error) {
	n, err := s.db.LatestUnacknowledged()
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	ok, err := s.db.AcknowledgeNotification(n.ID, s.now().UTC().Format(time.RFC3339), responseSummary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	s.logger.Printf("[schedule] %s (%s) acknowledged", n.Type, n.ID)
	return n, nil
}
