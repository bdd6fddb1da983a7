package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/steward-bot/steward/internal/assist"
	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/notify"
	"github.com/steward-bot/steward/internal/schedule"
	"github.com/steward-bot/steward/internal/session"
	"github.com/steward-bot/steward/internal/syncer"
	"github.com/steward-bot/steward/internal/vault"
)

type fakeParser struct {
	parsed *assist.ParsedTask
	err    error
	inputs []string
}

func (f *fakeParser) ParseTask(_ context.Context, text string, _ time.Time) (*assist.ParsedTask, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.parsed, nil
}

type fakeEstimator struct {
	minutes int
}

func (f *fakeEstimator) Estimate(context.Context, string, []*vault.Task) (int, string, error) {
	if f.minutes == 0 {
		return 0, "", errors.New("no estimate")
	}
	return f.minutes, "model", nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	return "summary: " + text, nil
}

type dropTransport struct{}

func (dropTransport) Send(context.Context, notify.Message) error { return nil }

type emptyComposer struct{}

func (emptyComposer) Compose(_ context.Context, jobType string, _ time.Time) (notify.Message, error) {
	return notify.Message{Title: jobType}, nil
}

type fixture struct {
	router *Router
	db     *index.DB
	sync   *syncer.Syncer
	parser *fakeParser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	sync := syncer.New(root, db, logger)
	sessions := session.New(session.DefaultConfig(), db, logger)
	sched := schedule.New(schedule.DefaultConfig(), nil, db, dropTransport{}, emptyComposer{}, logger)
	parser := &fakeParser{}
	r := New(db, sync, sessions, sched, parser, &fakeEstimator{minutes: 45}, fakeSummarizer{}, logger)
	return &fixture{router: r, db: db, sync: sync, parser: parser}
}

func TestHandle_CreatesTask(t *testing.T) {
	f := newFixture(t)
	f.parser.parsed = &assist.ParsedTask{
		Title:    "Send the invoice",
		Due:      "2026-09-02",
		Priority: vault.PriorityHigh,
		Tags:     []string{"finance"},
	}

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "invoice by wednesday"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "Send the invoice") || !strings.Contains(reply, "2026-09-02") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, "~45m") {
		t.Errorf("reply = %q, want model estimate mentioned", reply)
	}

	tasks, err := f.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		t.Fatalf("TasksByStatus() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Send the invoice" {
		t.Fatalf("tasks = %v", tasks)
	}
	if tasks[0].TimeEstimateMinutes != 45 || tasks[0].TimeEstimateSource != "model" {
		t.Errorf("estimate = %d/%s", tasks[0].TimeEstimateMinutes, tasks[0].TimeEstimateSource)
	}
}

func TestHandle_CreateTaskLinksPeople(t *testing.T) {
	f := newFixture(t)

	// Maya already has a person file; Raj does not.
	person := vault.NewDocument(vault.KindPerson, time.Now())
	person.Set("name", "Maya Chen")
	if _, err := f.sync.CreateEntity(context.Background(), person); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	f.parser.parsed = &assist.ParsedTask{
		Title:    "Review the draft",
		Priority: vault.PriorityMedium,
		People:   []string{"maya chen", "Raj Patel"},
	}
	if _, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "review the draft with maya and raj"}); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	active, err := f.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		t.Fatalf("TasksByStatus() failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	task, err := f.db.GetTask(active[0].ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if len(task.PeopleIDs) != 2 {
		t.Fatalf("PeopleIDs = %v, want both people linked", task.PeopleIDs)
	}

	// The existing person is matched despite the case difference.
	found := false
	for _, id := range task.PeopleIDs {
		if id == person.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("PeopleIDs = %v, want existing person %s reused", task.PeopleIDs, person.ID)
	}

	// The unknown name got a fresh person file.
	raj, err := f.db.GetPersonByName("Raj Patel")
	if err != nil {
		t.Fatalf("GetPersonByName() failed: %v", err)
	}
	if raj == nil {
		t.Fatal("person file for the unknown name was not created")
	}
}

func TestHandle_UnclearThenFollowUp(t *testing.T) {
	f := newFixture(t)
	f.parser.err = errors.New("no task here")

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "hmm that thing"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "couldn't") {
		t.Errorf("reply = %q, want clarification prompt", reply)
	}

	// The follow-up is parsed together with the first message.
	f.parser.err = nil
	f.parser.parsed = &assist.ParsedTask{Title: "Fix the gutter", Priority: vault.PriorityMedium}
	if _, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "fix the gutter saturday"}); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	last := f.parser.inputs[len(f.parser.inputs)-1]
	if !strings.Contains(last, "hmm that thing") || !strings.Contains(last, "fix the gutter saturday") {
		t.Errorf("combined parse input = %q", last)
	}
}

func TestHandle_Done(t *testing.T) {
	f := newFixture(t)
	doc := vault.NewDocument(vault.KindTask, time.Now())
	doc.Set("title", "Water the plants")
	doc.Set("status", vault.TaskStatusActive)
	doc.Set("priority", vault.PriorityLow)
	if _, err := f.sync.CreateEntity(context.Background(), doc); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "done plants"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "Water the plants") {
		t.Errorf("reply = %q", reply)
	}

	task, err := f.db.GetTask(doc.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if task.Status != vault.TaskStatusCompleted || task.CompletedAt == "" {
		t.Errorf("task = %+v, want completed", task)
	}
}

func TestHandle_DoneAmbiguous(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"Write report A", "Write report B"} {
		doc := vault.NewDocument(vault.KindTask, time.Now())
		doc.Set("title", title)
		doc.Set("status", vault.TaskStatusActive)
		doc.Set("priority", vault.PriorityMedium)
		if _, err := f.sync.CreateEntity(context.Background(), doc); err != nil {
			t.Fatalf("CreateEntity() failed: %v", err)
		}
	}

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "done report"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "be more specific") {
		t.Errorf("reply = %q, want disambiguation prompt", reply)
	}

	// Neither task was touched.
	active, err := f.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		t.Fatalf("TasksByStatus() failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active = %d, want 2", len(active))
	}
}

func TestHandle_List(t *testing.T) {
	f := newFixture(t)

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "today"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "Nothing on the list") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandle_AcknowledgesPendingNotification(t *testing.T) {
	f := newFixture(t)

	now := time.Now().UTC()
	n := &index.Notification{
		ID:           ulid.Make().String(),
		Type:         schedule.TypeMorningCheckin,
		Priority:     notify.PriorityDefault,
		ScheduledFor: now.Format(time.RFC3339),
	}
	if err := f.db.InsertNotification(n); err != nil {
		t.Fatalf("InsertNotification() failed: %v", err)
	}
	if err := f.db.MarkNotificationSent(n.ID, now.Format(time.RFC3339),
		now.Add(5*time.Minute).Format(time.RFC3339)); err != nil {
		t.Fatalf("MarkNotificationSent() failed: %v", err)
	}

	reply, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "plan is deep work til noon"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !strings.Contains(reply, "Morning logged") {
		t.Errorf("reply = %q", reply)
	}

	got, err := f.db.GetNotification(n.ID)
	if err != nil {
		t.Fatalf("GetNotification() failed: %v", err)
	}
	if got.AcknowledgedAt == "" {
		t.Error("notification not acknowledged")
	}
	if !strings.Contains(got.ResponseSummary, "deep work") {
		t.Errorf("ResponseSummary = %q", got.ResponseSummary)
	}

	logRow, err := f.db.GetDailyLogByDate(now.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("GetDailyLogByDate() failed: %v", err)
	}
	if logRow == nil || logRow.MorningCheckinAt == "" {
		t.Errorf("daily log = %+v, want morning check-in stamped", logRow)
	}
}

func TestHandle_ReplyWithoutPendingCreatesTask(t *testing.T) {
	f := newFixture(t)
	f.parser.parsed = &assist.ParsedTask{Title: "Random idea", Priority: vault.PriorityMedium}

	if _, err := f.router.Handle(context.Background(), Inbound{UserID: 1, ChatID: 10, Text: "random idea"}); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	active, err := f.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		t.Fatalf("TasksByStatus() failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active = %d, want 1", len(active))
	}
}
