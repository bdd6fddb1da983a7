package schedule

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/notify"
)

type captureTransport struct {
	sent []notify.Message
}

func (c *captureTransport) Send(_ context.Context, msg notify.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

type staticComposer struct{}

func (staticComposer) Compose(_ context.Context, jobType string, _ time.Time) (notify.Message, error) {
	return notify.Message{Title: jobType, Body: "body"}, nil
}

// flakyTransport fails the first N sends, then delivers.
type flakyTransport struct {
	captureTransport
	failures int
}

func (f *flakyTransport) Send(ctx context.Context, msg notify.Message) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("ntfy unreachable")
	}
	return f.captureTransport.Send(ctx, msg)
}

func testDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func testScheduler(t *testing.T, jobs []Job) (*Scheduler, *captureTransport, *time.Time, *index.DB) {
	t.Helper()
	db := testDB(t)
	tr := &captureTransport{}
	s := New(DefaultConfig(), jobs, db, tr, staticComposer{}, log.New(io.Discard, "", 0))
	// Tuesday 2026-09-01.
	clock := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, tr, &clock, db
}

func TestDailyAt(t *testing.T) {
	next := dailyAt(7, 0, time.UTC)

	before := time.Date(2026, 9, 1, 6, 59, 0, 0, time.UTC)
	if got := next(before); !got.Equal(time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("next(6:59) = %v", got)
	}
	at := time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)
	if got := next(at); !got.Equal(time.Date(2026, 9, 2, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("next(7:00) = %v, want next day", got)
	}
}

func TestPeriodic_WorkHoursWeekdaysOnly(t *testing.T) {
	next := periodic(2*time.Hour, 9, 17, time.UTC)

	// Mid-morning Tuesday: next slot on the two-hour grid.
	from := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if got := next(from); !got.Equal(time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("next(Tue 10:00) = %v, want Tue 11:00", got)
	}

	// After hours: rolls to the next morning.
	evening := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	if got := next(evening); !got.Equal(time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next(Tue 18:00) = %v, want Wed 09:00", got)
	}

	// Friday evening: skips the weekend entirely.
	friday := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)
	if got := next(friday); !got.Equal(time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("next(Fri 18:00) = %v, want Mon 09:00", got)
	}
}

func TestTick_FiresDueJob(t *testing.T) {
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s, tr, clock, db := testScheduler(t, jobs)

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	// Not due yet.
	s.Tick(context.Background())
	if len(tr.sent) != 0 {
		t.Fatalf("nothing should fire before 07:00, got %d", len(tr.sent))
	}

	*clock = time.Date(2026, 9, 1, 7, 0, 30, 0, time.UTC)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}
	if tr.sent[0].Priority != notify.PriorityDefault {
		t.Errorf("initial priority = %q, want default", tr.sent[0].Priority)
	}

	// The record is persisted and armed for escalation.
	n, err := db.LatestUnacknowledged()
	if err != nil {
		t.Fatalf("LatestUnacknowledged() failed: %v", err)
	}
	if n == nil || n.Type != TypeMorningCheckin || n.NextEscalationAt == "" {
		t.Errorf("notification = %+v", n)
	}

	// Further ticks within the same occurrence do not refire.
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Errorf("sent = %d after repeat tick, want 1", len(tr.sent))
	}
}

// A transport outage must delay a notification, not drop it: the record
// is written before delivery, stays unsent, and is retried every poll.
func TestTick_RetriesUnsentDelivery(t *testing.T) {
	db := testDB(t)
	// Two failures cover the initial send and the retry within the same
	// tick, so the record is still unsent when the outage "ends".
	tr := &flakyTransport{failures: 2}
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s := New(DefaultConfig(), jobs, db, tr, staticComposer{}, log.New(io.Discard, "", 0))
	clock := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	clock = time.Date(2026, 9, 1, 7, 0, 30, 0, time.UTC)
	s.Tick(context.Background())
	if len(tr.sent) != 0 {
		t.Fatalf("sent = %d during outage, want 0", len(tr.sent))
	}
	unsent, err := db.UnsentNotifications()
	if err != nil {
		t.Fatalf("UnsentNotifications() failed: %v", err)
	}
	if len(unsent) != 1 || unsent[0].Type != TypeMorningCheckin {
		t.Fatalf("unsent = %+v, want the recorded occurrence", unsent)
	}

	// Transport recovers: the next poll delivers the backlog.
	clock = clock.Add(30 * time.Second)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d after recovery, want 1", len(tr.sent))
	}
	n, err := db.GetNotification(unsent[0].ID)
	if err != nil {
		t.Fatalf("GetNotification() failed: %v", err)
	}
	if n.SentAt == "" {
		t.Error("sent_at not stamped after retry")
	}
	if n.NextEscalationAt == "" {
		t.Error("escalation not armed after retry")
	}

	// The occurrence fires exactly once.
	clock = clock.Add(30 * time.Second)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Errorf("sent = %d after further ticks, want 1", len(tr.sent))
	}
}

// An escalation ladder needs one more delay than priorities (the last
// delay is the lapse wait); a config without it must not walk off the
// end of the delays.
func TestNew_RepairsMisconfiguredLadder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EscalationDelays = []time.Duration{time.Minute, time.Minute}

	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	db := testDB(t)
	tr := &captureTransport{}
	s := New(cfg, jobs, db, tr, staticComposer{}, log.New(io.Discard, "", 0))
	if len(s.cfg.EscalationDelays) != len(s.cfg.EscalationPriorities)+1 {
		t.Fatalf("ladder not repaired: %d delays for %d priorities",
			len(s.cfg.EscalationDelays), len(s.cfg.EscalationPriorities))
	}

	clock := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	// Walk the whole ladder through to lapse.
	clock = time.Date(2026, 9, 1, 7, 0, 30, 0, time.UTC)
	s.Tick(context.Background())
	for i := 0; i < 4; i++ {
		clock = clock.Add(20 * time.Minute)
		s.Tick(context.Background())
	}
	if len(tr.sent) != 3 {
		t.Errorf("sent = %d, want initial plus two reminders", len(tr.sent))
	}
	n, err := db.LatestUnacknowledged()
	if err != nil {
		t.Fatalf("LatestUnacknowledged() failed: %v", err)
	}
	if n != nil {
		t.Errorf("notification should have lapsed, got %+v", n)
	}
}

func TestEscalation_LadderThenLapse(t *testing.T) {
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s, tr, clock, db := testScheduler(t, jobs)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	*clock = time.Date(2026, 9, 1, 7, 0, 30, 0, time.UTC)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want initial delivery", len(tr.sent))
	}

	// +5 minutes: first reminder at high priority.
	*clock = clock.Add(6 * time.Minute)
	s.Tick(context.Background())
	if len(tr.sent) != 2 {
		t.Fatalf("sent = %d, want reminder", len(tr.sent))
	}
	if tr.sent[1].Priority != notify.PriorityHigh {
		t.Errorf("first reminder priority = %q, want high", tr.sent[1].Priority)
	}

	// +10 more: second reminder at urgent.
	*clock = clock.Add(11 * time.Minute)
	s.Tick(context.Background())
	if len(tr.sent) != 3 {
		t.Fatalf("sent = %d, want second reminder", len(tr.sent))
	}
	if tr.sent[2].Priority != notify.PriorityUrgent {
		t.Errorf("second reminder priority = %q, want urgent", tr.sent[2].Priority)
	}

	// +15 more: lapse, no further sends.
	*clock = clock.Add(16 * time.Minute)
	s.Tick(context.Background())
	if len(tr.sent) != 3 {
		t.Errorf("sent = %d after lapse, want 3", len(tr.sent))
	}
	n, err := db.LatestUnacknowledged()
	if err != nil {
		t.Fatalf("LatestUnacknowledged() failed: %v", err)
	}
	if n != nil {
		t.Errorf("lapsed notification still pending: %+v", n)
	}

	// Long after: still nothing.
	*clock = clock.Add(2 * time.Hour)
	s.Tick(context.Background())
	if len(tr.sent) != 3 {
		t.Errorf("lapsed notification kept escalating: %d sends", len(tr.sent))
	}
}

func TestAcknowledge_StopsEscalation(t *testing.T) {
	jobs := []Job{{Type: TypeEveningReview, Next: dailyAt(21, 30, time.UTC), Escalate: true}}
	s, tr, clock, _ := testScheduler(t, jobs)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	*clock = time.Date(2026, 9, 1, 21, 30, 30, 0, time.UTC)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}

	n, err := s.Acknowledge("wrapped up the proposal")
	if err != nil {
		t.Fatalf("Acknowledge() failed: %v", err)
	}
	if n == nil || n.Type != TypeEveningReview {
		t.Fatalf("acknowledged = %+v", n)
	}

	*clock = clock.Add(time.Hour)
	s.Tick(context.Background())
	if len(tr.sent) != 1 {
		t.Errorf("acknowledged notification escalated anyway: %d sends", len(tr.sent))
	}

	// Nothing left to acknowledge.
	n, err = s.Acknowledge("again")
	if err != nil {
		t.Fatalf("Acknowledge() failed: %v", err)
	}
	if n != nil {
		t.Errorf("second Acknowledge() = %+v, want nil", n)
	}
}

func TestReconcile_FiresMissedWithinGrace(t *testing.T) {
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s, tr, clock, _ := testScheduler(t, jobs)

	// Process starts 5 minutes after the morning slot was missed.
	*clock = time.Date(2026, 9, 1, 7, 5, 0, 0, time.UTC)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent = %d, want the missed occurrence fired late", len(tr.sent))
	}
}

func TestReconcile_SkipsStaleOccurrence(t *testing.T) {
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s, tr, clock, _ := testScheduler(t, jobs)

	// Hours late: the moment has passed.
	*clock = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Errorf("sent = %d, stale occurrence should be skipped", len(tr.sent))
	}
}

func TestReconcile_DoesNotRefireRecorded(t *testing.T) {
	jobs := []Job{{Type: TypeMorningCheckin, Next: dailyAt(7, 0, time.UTC), Escalate: true}}
	s, tr, clock, _ := testScheduler(t, jobs)

	*clock = time.Date(2026, 9, 1, 7, 5, 0, 0, time.UTC)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}

	// A restart right after must not fire the same occurrence again.
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile() failed: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent = %d after restart, want 1", len(tr.sent))
	}
}
