// Package dashboard serves the local web surface: a websocket chat with
// the assistant, a health endpoint, and a rendered view of today.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/yuin/goldmark"

	"github.com/steward-bot/steward/internal/chat"
	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/vault"
)

// MessageType distinguishes websocket payloads.
type MessageType string

const (
	// MessageTypeChat carries a user or assistant chat line.
	MessageTypeChat MessageType = "chat"
	// MessageTypeNotification mirrors a push notification to the page.
	MessageTypeNotification MessageType = "notification"
)

// Message is one websocket frame, both directions.
type Message struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from,omitempty"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChatHandler interprets inbound chat messages.
type ChatHandler interface {
	Handle(ctx context.Context, msg chat.Inbound) (string, error)
}

// Config holds server settings.
type Config struct {
	// Port to listen on.
	Port int
	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Port: 8765, Logger: log.Default()}
}

// Server is the dashboard HTTP and websocket server.
type Server struct {
	addr     string
	db       *index.DB
	handler  ChatHandler
	markdown goldmark.Markdown

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server.
func NewServer(config *Config, db *index.DB, handler ChatHandler) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		db:        db,
		handler:   handler,
		markdown:  goldmark.New(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/today", s.handleToday)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Reply broadcasts an assistant line to every connected client. This is
// how chat responses and notification mirrors reach the page.
func (s *Server) Reply(_ context.Context, _ int64, text string) error {
	s.Broadcast(Message{Type: MessageTypeChat, From: "steward", Text: text})
	return nil
}

// Broadcast queues a message for all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop routes each client frame through the chat handler and
// broadcasts the reply.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		s.Broadcast(Message{Type: MessageTypeChat, From: "you", Text: msg.Text})
		reply, err := s.handler.Handle(s.ctx, chat.Inbound{UserID: 1, ChatID: 1, Text: msg.Text})
		if err != nil {
			s.logger.Printf("Chat handler error: %v", err)
			reply = "Something went wrong on my end, try again."
		}
		s.Broadcast(Message{Type: MessageTypeChat, From: "steward", Text: reply})
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CountsByKind()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"indexed": counts,
	})
}

// handleToday renders the day's agenda: due and active tasks plus the
// daily log body, as markdown turned into HTML.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	today := time.Now().Format("2006-01-02")

	var md bytes.Buffer
	fmt.Fprintf(&md, "# %s\n\n", today)

	due, err := s.db.TasksDueBy(today)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	md.WriteString("## Due\n\n")
	if len(due) == 0 {
		md.WriteString("Nothing due.\n")
	}
	for _, t := range due {
		fmt.Fprintf(&md, "- **%s** [%s] due %s\n", t.Title, t.Priority, t.DueDate)
	}

	active, err := s.db.TasksByStatus(vault.TaskStatusActive)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	md.WriteString("\n## Active\n\n")
	for _, t := range active {
		fmt.Fprintf(&md, "- %s [%s]\n", t.Title, t.Priority)
	}

	if logRow, err := s.db.GetDailyLogByDate(today); err == nil && logRow != nil {
		md.WriteString("\n## Log\n\n")
		if logRow.MorningCheckinAt != "" {
			fmt.Fprintf(&md, "Morning check-in at %s\n\n", logRow.MorningCheckinAt)
		}
		if logRow.EveningReviewAt != "" {
			fmt.Fprintf(&md, "Evening review at %s\n\n", logRow.EveningReviewAt)
		}
	}

	var html bytes.Buffer
	if err := s.markdown.Convert(md.Bytes(), &html); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, pageShell, "Today", html.String())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, pageShell, "Steward", fmt.Sprintf(`
<h1>Steward</h1>
<p>Today's agenda: <a href="/today">/today</a></p>
<p>Health: <a href="/health">/health</a></p>
<p>Chat endpoint: <code>ws://%s/ws</code></p>`, r.Host))
}

const pageShell = `<!DOCTYPE html>
<html>
<head><title>%s</title>
<style>body{font-family:sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem}</style>
</head>
<body>%s</body>
</html>`
