package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/steward-bot/steward/internal/chat"
	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/syncer"
	"github.com/steward-bot/steward/internal/vault"
)

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, msg chat.Inbound) (string, error) {
	return "heard: " + msg.Text, nil
}

func testServer(t *testing.T) (*Server, *index.DB) {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	s := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)}, db, echoHandler{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})
	return s, db
}

func TestServer_Health(t *testing.T) {
	s, _ := testServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestServer_TodayRendersTasks(t *testing.T) {
	s, db := testServer(t)

	logger := log.New(io.Discard, "", 0)
	sync := syncer.New(t.TempDir(), db, logger)
	doc := vault.NewDocument(vault.KindTask, time.Now())
	doc.Set("title", "Prepare the deck")
	doc.Set("status", vault.TaskStatusActive)
	doc.Set("priority", vault.PriorityHigh)
	doc.Set("due_date", time.Now().Format("2006-01-02"))
	if _, err := sync.CreateEntity(context.Background(), doc); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/today", s.Addr()))
	if err != nil {
		t.Fatalf("GET /today failed: %v", err)
	}
	defer resp.Body.Close()
	page, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(page), "Prepare the deck") {
		t.Errorf("page does not mention the due task:\n%s", page)
	}
	if !strings.Contains(string(page), "<strong>") {
		t.Error("markdown was not rendered to HTML")
	}
}

func TestServer_WebSocketChatRoundTrip(t *testing.T) {
	s, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	out, _ := json.Marshal(Message{Type: MessageTypeChat, Text: "add milk to the list"})
	if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	// The echo of our own message arrives first, then the reply.
	var got Message
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if got.From == "steward" {
			break
		}
	}
	if got.Text != "heard: add milk to the list" {
		t.Errorf("reply = %q", got.Text)
	}
}

func TestServer_ReplyBroadcasts(t *testing.T) {
	s, _ := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the connection to register before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Reply(ctx, 1, "time for your check-in"); err != nil {
		t.Fatalf("Reply() failed: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Text != "time for your check-in" || got.From != "steward" {
		t.Errorf("got = %+v", got)
	}
}
