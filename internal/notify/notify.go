// Package notify delivers push notifications through an ntfy server.
// ntfy's HTTP API is a plain POST per message, so delivery needs nothing
// beyond net/http and the topic the user's devices subscribe to.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Priorities understood by ntfy, lowest to highest.
const (
	PriorityLow     = "low"
	PriorityDefault = "default"
	PriorityHigh    = "high"
	PriorityUrgent  = "urgent"
)

// Message is one push notification.
type Message struct {
	Title    string
	Body     string
	Priority string
	Tags     []string
	// ClickURL opens when the notification is tapped.
	ClickURL string
}

// Transport sends push notifications. The scheduler depends on this
// interface so tests can capture deliveries without a network.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds ntfy connection settings.
type Config struct {
	// ServerURL is the ntfy server base URL.
	ServerURL string
	// Topic is the channel the user's devices subscribe to. Topics are
	// the only access control on public ntfy servers, so treat it like
	// a password.
	Topic string
	// AccessToken optionally authenticates against a protected server.
	AccessToken string
	// Attempts bounds delivery retries.
	Attempts int
	// Backoff is the initial retry delay, doubled per attempt.
	Backoff time.Duration
}

// DefaultConfig returns settings for the public ntfy.sh server.
func DefaultConfig(topic string) Config {
	return Config{
		ServerURL: "https://ntfy.sh",
		Topic:     topic,
		Attempts:  3,
		Backoff:   time.Second,
	}
}

// Ntfy is the production Transport.
type Ntfy struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

// New creates an ntfy transport.
func New(cfg Config, logger *log.Logger) (*Ntfy, error) {
	if cfg.ServerURL == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("ntfy requires a server URL and topic")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Ntfy{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}, nil
}

// Send posts one message, retrying transient failures with doubling
// backoff. A 4xx response is treated as permanent and not retried.
func (n *Ntfy) Send(ctx context.Context, msg Message) error {
	delay := n.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= n.cfg.Attempts; attempt++ {
		lastErr = n.post(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if permanent, ok := lastErr.(*permanentError); ok {
			return permanent.err
		}
		if attempt < n.cfg.Attempts {
			n.logger.Printf("[notify] delivery attempt %d/%d failed, retrying in %s: %v",
				attempt, n.cfg.Attempts, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("failed to deliver notification after %d attempts: %w",
		n.cfg.Attempts, lastErr)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (n *Ntfy) post(ctx context.Context, msg Message) error {
	url := strings.TrimRight(n.cfg.ServerURL, "/") + "/" + n.cfg.Topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		strings.NewReader(msg.Body))
	if err != nil {
		return &permanentError{err: err}
	}
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if msg.Priority != "" {
		req.Header.Set("Priority", msg.Priority)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.ClickURL != "" {
		req.Header.Set("Click", msg.ClickURL)
	}
	if n.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.AccessToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{err: err}
	}
	return err
}
