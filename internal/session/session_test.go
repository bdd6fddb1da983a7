package session

import (
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steward-bot/steward/internal/index"
)

func testManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	m := New(DefaultConfig(), db, log.New(io.Discard, "", 0))
	clock := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestTouch_StartsFresh(t *testing.T) {
	m, _ := testManager(t)

	st, err := m.Touch(1, 10, ContextTaskCreation, `{"title":"x"}`)
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if !st.Fresh || st.Superseded {
		t.Errorf("Fresh=%v Superseded=%v, want fresh only", st.Fresh, st.Superseded)
	}
	if st.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", st.MessageCount)
	}
}

func TestTouch_ExtendsExisting(t *testing.T) {
	m, clock := testManager(t)

	first, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	*clock = clock.Add(10 * time.Minute)
	second, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("second Touch() failed: %v", err)
	}
	if second.Fresh {
		t.Error("second message should continue the session")
	}
	if second.ID != first.ID {
		t.Errorf("session id changed: %s -> %s", first.ID, second.ID)
	}
	if second.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", second.MessageCount)
	}

	// Still alive 25 minutes later only because the second message
	// pushed the idle deadline out.
	*clock = clock.Add(25 * time.Minute)
	third, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("third Touch() failed: %v", err)
	}
	if third.Fresh {
		t.Error("TTL should have been extended by the second message")
	}
}

func TestTouch_ExpiredStartsFresh(t *testing.T) {
	m, clock := testManager(t)

	first, err := m.Touch(1, 10, ContextTaskCreation, "old")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	*clock = clock.Add(31 * time.Minute)
	st, err := m.Touch(1, 10, ContextTaskCreation, "")
	if err != nil {
		t.Fatalf("Touch() after expiry failed: %v", err)
	}
	if !st.Fresh || st.Superseded {
		t.Errorf("Fresh=%v Superseded=%v, want plain fresh start", st.Fresh, st.Superseded)
	}
	if st.ID == first.ID {
		t.Error("expired session must not be resumed")
	}
	if st.ContextData == "old" {
		t.Error("expired session data must not leak into the new session")
	}
}

func TestTouch_CeilingRollsOver(t *testing.T) {
	m, clock := testManager(t)

	var last *State
	for i := 0; i < 5; i++ {
		var err error
		last, err = m.Touch(1, 10, ContextReview, "")
		if err != nil {
			t.Fatalf("Touch() %d failed: %v", i, err)
		}
		*clock = clock.Add(time.Minute)
	}
	if last.MessageCount != 5 {
		t.Fatalf("MessageCount = %d, want 5", last.MessageCount)
	}

	// The sixth message exceeds the ceiling and seeds a new session.
	st, err := m.Touch(1, 10, ContextReview, "")
	if err != nil {
		t.Fatalf("overflow Touch() failed: %v", err)
	}
	if !st.Fresh || !st.Superseded {
		t.Errorf("Fresh=%v Superseded=%v, want rollover", st.Fresh, st.Superseded)
	}
	if st.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", st.MessageCount)
	}
	if st.ID == last.ID {
		t.Error("rollover must mint a new session id")
	}

	// Exactly one session row remains for the key.
	got, err := m.Get(1, ContextReview)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil || got.ID != st.ID {
		t.Errorf("live session = %+v, want %s", got, st.ID)
	}
}

func TestTouch_ConcurrentSingleSession(t *testing.T) {
	m, clock := testManager(t)
	m.cfg.MessageCeiling = 100

	const workers = 8
	var wg sync.WaitGroup
	states := make([]*State, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = m.Touch(1, 10, ContextTaskCreation, "")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Touch() %d failed: %v", i, err)
		}
	}

	// Every message landed on the same session, and exactly one of them
	// started it.
	fresh := 0
	for i, st := range states {
		if st.Fresh {
			fresh++
		}
		if st.ID != states[0].ID {
			t.Errorf("state %d has session %s, want %s", i, st.ID, states[0].ID)
		}
	}
	if fresh != 1 {
		t.Errorf("fresh starts = %d, want exactly 1", fresh)
	}

	got, err := m.Get(1, ContextTaskCreation)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil || got.MessageCount != workers {
		t.Errorf("live session = %+v, want MessageCount %d", got, workers)
	}

	// Exactly one row exists for the key.
	*clock = clock.Add(3 * time.Hour)
	n, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d rows, want exactly 1", n)
	}
}

func TestTouch_MaxAgeCapsExtension(t *testing.T) {
	m, clock := testManager(t)
	m.cfg.MessageCeiling = 100

	first, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	// Keep the session busy right up to the age cap.
	for i := 0; i < 7; i++ {
		*clock = clock.Add(15 * time.Minute)
		if _, err := m.Touch(1, 10, ContextCheckin, ""); err != nil {
			t.Fatalf("Touch() failed: %v", err)
		}
	}

	// 2h05m after creation: past the cap, even though the last message
	// was only 20 minutes ago.
	*clock = clock.Add(20 * time.Minute)
	st, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if !st.Fresh {
		t.Error("age cap should have ended the session")
	}
	if st.ID == first.ID {
		t.Error("capped session must not be resumed")
	}
}

func TestSessions_IndependentPerContext(t *testing.T) {
	m, _ := testManager(t)

	a, err := m.Touch(1, 10, ContextTaskCreation, "")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	b, err := m.Touch(1, 10, ContextCheckin, "")
	if err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("different context types must get different sessions")
	}
}

func TestComplete(t *testing.T) {
	m, _ := testManager(t)

	if _, err := m.Touch(1, 10, ContextTaskCreation, ""); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if err := m.Complete(1, ContextTaskCreation); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	got, err := m.Get(1, ContextTaskCreation)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Error("completed session should be gone")
	}
}

func TestSweep(t *testing.T) {
	m, clock := testManager(t)

	if _, err := m.Touch(1, 10, ContextTaskCreation, ""); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if _, err := m.Touch(2, 20, ContextCheckin, ""); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	*clock = clock.Add(time.Hour)
	n, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("swept = %d, want 2", n)
	}
}

func TestSetData(t *testing.T) {
	m, _ := testManager(t)

	if _, err := m.Touch(1, 10, ContextTaskCreation, "v1"); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	if err := m.SetData(1, ContextTaskCreation, "v2"); err != nil {
		t.Fatalf("SetData() failed: %v", err)
	}
	got, err := m.Get(1, ContextTaskCreation)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil || got.ContextData != "v2" {
		t.Errorf("ContextData = %+v, want v2", got)
	}
}
