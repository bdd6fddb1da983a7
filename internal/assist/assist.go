// Package assist turns free-form chat text into structured task data.
// Claude does the heavy interpretation; natural-language dates are
// resolved locally so "friday" means the user's friday, not the model's.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/steward-bot/steward/internal/vault"
)

// ParsedTask is the structured reading of a task request.
type ParsedTask struct {
	Title           string   `json:"title"`
	Due             string   `json:"due"`
	Priority        string   `json:"priority"`
	Tags            []string `json:"tags"`
	Context         string   `json:"context"`
	EstimateMinutes int      `json:"estimate_minutes"`
	People          []string `json:"people"`
}

// Parser extracts task structure from free text.
type Parser interface {
	ParseTask(ctx context.Context, text string, now time.Time) (*ParsedTask, error)
}

// Estimator predicts how long a task will take.
type Estimator interface {
	Estimate(ctx context.Context, title string, history []*vault.Task) (minutes int, source string, err error)
}

// Summarizer condenses a user's reply for the notification record.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// messageClient is the slice of the Anthropic SDK the assistant calls,
// extracted so tests can substitute canned responses.
type messageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type realClient struct {
	client *anthropic.Client
}

func (r *realClient) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return r.client.Messages.New(ctx, params)
}

// Config holds assistant settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultConfig returns the standard assistant settings.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Timeout:   30 * time.Second,
	}
}

// Assistant implements Parser, Estimator, and Summarizer against Claude.
type Assistant struct {
	cfg    Config
	client messageClient
	dates  *when.Parser
}

// New creates an Assistant using the real Anthropic client.
func New(cfg Config) (*Assistant, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assistant requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newWith(cfg, &realClient{client: &client}), nil
}

func newWith(cfg Config, client messageClient) *Assistant {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Assistant{cfg: cfg, client: client, dates: w}
}

const parsePrompt = `You extract structured task data from a short message.
Respond with only a JSON object with these keys:
  title: imperative task title, cleaned up
  due: the due date phrase exactly as the user wrote it, or ""
  priority: one of low, medium, high, urgent (default medium)
  tags: array of short lowercase topic tags, at most three
  context: any extra detail worth keeping, or ""
  estimate_minutes: integer minutes if the user stated a duration, else 0
  people: array of person names mentioned, else empty
No prose, no markdown fences.`

// ParseTask interprets a task request. The due phrase Claude echoes back
// is resolved to a concrete date against now, locally.
func (a *Assistant) ParseTask(ctx context.Context, text string, now time.Time) (*ParsedTask, error) {
	raw, err := a.complete(ctx, parsePrompt, text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task text: %w", err)
	}

	var parsed ParsedTask
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("unusable task parse %q: %w", raw, err)
	}
	if parsed.Title == "" {
		return nil, fmt.Errorf("no task title in %q", text)
	}
	if !vault.ValidPriority(parsed.Priority) {
		parsed.Priority = vault.PriorityMedium
	}

	if parsed.Due != "" {
		date, err := a.ResolveDate(parsed.Due, now)
		if err != nil {
			// An unresolvable phrase is dropped, not fatal: the task is
			// still worth creating and the user can set the date later.
			parsed.Due = ""
		} else {
			parsed.Due = date
		}
	}
	return &parsed, nil
}

// ResolveDate turns a natural-language date phrase into YYYY-MM-DD
// relative to base.
func (a *Assistant) ResolveDate(phrase string, base time.Time) (string, error) {
	return resolveDate(a.dates, phrase, base)
}

// ResolveDate resolves a date phrase without an Assistant, for callers
// that have no API key.
func ResolveDate(phrase string, base time.Time) (string, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return resolveDate(w, phrase, base)
}

func resolveDate(dates *when.Parser, phrase string, base time.Time) (string, error) {
	if t, err := time.Parse("2006-01-02", phrase); err == nil {
		return t.Format("2006-01-02"), nil
	}
	r, err := dates.Parse(phrase, base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", phrase, err)
	}
	if r == nil {
		return "", fmt.Errorf("no date found in %q", phrase)
	}
	return r.Time.Format("2006-01-02"), nil
}

const estimatePrompt = `You estimate task durations. Given a task title and
past (title, estimated, actual) triples from the same person, respond with
only a JSON object: {"minutes": <integer>}. Round to a sensible block
(15, 30, 45, 60, 90, 120...). Weigh the history: if this person habitually
runs over their own estimates, pad accordingly.`

// Estimate predicts a duration for a task from the user's track record.
// The source return distinguishes model estimates from user-stated ones
// so later accuracy analysis knows which was which.
func (a *Assistant) Estimate(ctx context.Context, title string, history []*vault.Task) (int, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", title)
	if len(history) > 0 {
		b.WriteString("History:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "- %q estimated %dm, took %dm\n",
				t.Title, t.TimeEstimateMinutes, t.TimeActualMinutes)
		}
	}

	raw, err := a.complete(ctx, estimatePrompt, b.String())
	if err != nil {
		return 0, "", fmt.Errorf("failed to estimate %q: %w", title, err)
	}
	var out struct {
		Minutes int `json:"minutes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil || out.Minutes <= 0 {
		return 0, "", fmt.Errorf("unusable estimate %q", raw)
	}
	return out.Minutes, "model", nil
}

const summarizePrompt = `Condense the user's reply into one short line
recording what they said, third person, no preamble. Respond with only
that line.`

// Summarize condenses a check-in reply for the notification record.
func (a *Assistant) Summarize(ctx context.Context, text string) (string, error) {
	raw, err := a.complete(ctx, summarizePrompt, text)
	if err != nil {
		return "", fmt.Errorf("failed to summarize reply: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func (a *Assistant) complete(ctx context.Context, system, user string) (string, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	resp, err := a.client.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty model response")
	}
	return text.String(), nil
}

// extractJSON pulls the first balanced JSON object out of a response that
// may carry stray prose or fences around it.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return text
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
