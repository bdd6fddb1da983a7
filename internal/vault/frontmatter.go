package vault

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelim = "---"

// fieldOrder is the canonical ordering of front-matter keys on write.
// Keys not listed here are appended alphabetically. The order itself is
// cosmetic, but deterministic output keeps mirror diffs readable and makes
// rewrite-without-change a no-op in git.
var fieldOrder = []string{
	"id", "type", "title", "name", "date", "status", "priority",
	"created_at", "updated_at", "completed_at",
	"due_date", "deadline",
	"project_id", "project_name", "people_ids", "subtask_ids", "tags",
	"time_estimate_minutes", "time_estimate_source", "time_actual_minutes",
	"calendar_event_id", "scheduled_start", "scheduled_end",
	"role", "company", "email", "phone", "last_contact", "contact_frequency_days",
	"morning_checkin_at", "evening_review_at",
	"total_planned_minutes", "total_actual_minutes",
	"energy_level_morning", "energy_level_evening",
	"context",
}

// Decode parses a raw entity file into a Document. The file must open with
// a front-matter block; the body is everything after the closing delimiter
// with one leading newline trimmed.
func Decode(data []byte) (*Document, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") && text != frontMatterDelim {
		return nil, fmt.Errorf("no front-matter block")
	}
	rest := strings.TrimPrefix(text, frontMatterDelim+"\n")
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("unterminated front-matter block")
	}
	header := rest[:end]
	body := rest[end+len("\n"+frontMatterDelim):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	fields := make(map[string]any)
	if err := yaml.Unmarshal([]byte(header), &fields); err != nil {
		return nil, fmt.Errorf("invalid front-matter: %w", err)
	}

	doc := &Document{
		Fields: fields,
		Body:   body,
	}
	if id, ok := fields["id"].(string); ok {
		doc.ID = id
	}
	if kind, ok := fields["type"].(string); ok {
		doc.Kind = Kind(kind)
	}
	return doc, nil
}

// Encode serializes a Document back to file form. Front-matter keys are
// written in canonical order so that encode(decode(x)) is stable.
func Encode(doc *Document) ([]byte, error) {
	node, err := orderedMapping(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode front-matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode front-matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front-matter: %w", err)
	}
	buf.WriteString(frontMatterDelim + "\n")
	if doc.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(doc.Body)
		if !strings.HasSuffix(doc.Body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// orderedMapping builds a YAML mapping node with keys in canonical order.
func orderedMapping(fields map[string]any) (*yaml.Node, error) {
	rank := make(map[string]int, len(fieldOrder))
	for i, k := range fieldOrder {
		rank[k] = i
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iOK := rank[keys[i]]
		rj, jOK := rank[keys[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		}
		return keys[i] < keys[j]
	})

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		valNode := &yaml.Node{}
		if err := valNode.Encode(fields[k]); err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}
