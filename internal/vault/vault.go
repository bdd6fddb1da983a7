// Package vault manages the entity store: one markdown document per task,
// project, person, or daily log, each carrying a YAML front-matter block
// followed by free-form body text.
//
// The vault is the authoritative representation. Everything else (the SQLite
// index in particular) is derived from it and can be rebuilt at any time.
// Documents are addressed by their immutable `id` field, never by file path;
// paths are a projection of kind + status and change as entities move
// between lifecycle folders.
package vault

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies the entity type of a document.
type Kind string

const (
	KindTask     Kind = "task"
	KindProject  Kind = "project"
	KindPerson   Kind = "person"
	KindDailyLog Kind = "daily_log"
)

// Kinds lists all entity kinds in indexing order.
var Kinds = []Kind{KindTask, KindProject, KindPerson, KindDailyLog}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindProject, KindPerson, KindDailyLog:
		return true
	}
	return false
}

// Task statuses. Completed tasks move into monthly archive folders.
const (
	TaskStatusActive    = "active"
	TaskStatusSomeday   = "someday"
	TaskStatusCompleted = "completed"
)

// Project statuses.
const (
	ProjectStatusActive    = "active"
	ProjectStatusOnHold    = "on_hold"
	ProjectStatusCompleted = "completed"
	ProjectStatusArchived  = "archived"
)

// Priorities, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidTaskStatus reports whether s is a recognized task status.
func ValidTaskStatus(s string) bool {
	return s == TaskStatusActive || s == TaskStatusSomeday || s == TaskStatusCompleted
}

// ValidProjectStatus reports whether s is a recognized project status.
func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectStatusActive, ProjectStatusOnHold, ProjectStatusCompleted, ProjectStatusArchived:
		return true
	}
	return false
}

// ValidPriority reports whether p is a recognized priority level.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Document is a decoded entity file: the typed front-matter block plus the
// free-form markdown body. Fields holds every front-matter key, including
// id and type; ID and Kind are lifted out for convenience and are
// immutable once assigned.
type Document struct {
	Kind   Kind
	ID     string
	Fields map[string]any
	Body   string
}

// NewID allocates a new entity identifier. IDs are ULIDs: globally unique,
// assigned at creation, never reused, and sortable by creation time.
func NewID() string {
	return ulid.Make().String()
}

// Timestamp formats t in the RFC 3339 form used throughout front-matter
// and the index.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// String returns the string value of a front-matter field, or "" when the
// field is absent, null, or not a scalar.
func (d *Document) String(key string) string {
	switch v := d.Fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Int returns the integer value of a front-matter field, or 0.
func (d *Document) Int(key string) int {
	switch v := d.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Strings returns a string-list front-matter field. YAML sequences
// decode as []any; fields set in-process carry []string. Both coerce to
// the same result so a freshly created document indexes identically to
// its round trip through disk.
func (d *Document) Strings(key string) []string {
	switch raw := d.Fields[key].(type) {
	case []string:
		out := make([]string, 0, len(raw))
		for _, s := range raw {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(raw))
		for _, e := range raw {
			switch s := e.(type) {
			case string:
				if s != "" {
					out = append(out, s)
				}
			case int, int64, float64:
				out = append(out, fmt.Sprintf("%v", s))
			}
		}
		return out
	}
	return nil
}

// Set assigns a front-matter field. The id and type fields are immutable
// and silently ignored here; use the constructors to establish identity.
func (d *Document) Set(key string, value any) {
	if key == "id" || key == "type" {
		return
	}
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[key] = value
}

// Validate checks the document's identity and kind-specific required
// fields and enums. A document that fails validation is skipped during
// indexing, never indexed partially.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("missing id")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	switch d.Kind {
	case KindTask:
		if d.String("title") == "" {
			return fmt.Errorf("task missing title")
		}
		if s := d.String("status"); !ValidTaskStatus(s) {
			return fmt.Errorf("invalid task status %q", s)
		}
		if p := d.String("priority"); p != "" && !ValidPriority(p) {
			return fmt.Errorf("invalid priority %q", p)
		}
	case KindProject:
		if d.String("title") == "" {
			return fmt.Errorf("project missing title")
		}
		if s := d.String("status"); !ValidProjectStatus(s) {
			return fmt.Errorf("invalid project status %q", s)
		}
	case KindPerson:
		if d.String("name") == "" {
			return fmt.Errorf("person missing name")
		}
	case KindDailyLog:
		if d.String("date") == "" {
			return fmt.Errorf("daily log missing date")
		}
	}
	return nil
}

// NewDocument creates a document of the given kind with a fresh identifier
// and creation timestamps. Extra fields may be set afterwards with Set.
func NewDocument(kind Kind, now time.Time) *Document {
	id := NewID()
	return &Document{
		Kind: kind,
		ID:   id,
		Fields: map[string]any{
			"id":         id,
			"type":       string(kind),
			"created_at": Timestamp(now),
			"updated_at": Timestamp(now),
		},
	}
}

// NewDailyLog creates the log document for a YYYY-MM-DD date. Daily log
// ids are deterministic ("log-" plus the date) so there is exactly one
// per day no matter which code path creates it first.
func NewDailyLog(date string, now time.Time) *Document {
	id := "log-" + date
	return &Document{
		Kind: KindDailyLog,
		ID:   id,
		Fields: map[string]any{
			"id":         id,
			"type":       string(KindDailyLog),
			"date":       date,
			"created_at": Timestamp(now),
			"updated_at": Timestamp(now),
		},
	}
}

// Touch bumps the document's modification timestamp.
func (d *Document) Touch(now time.Time) {
	d.Fields["updated_at"] = Timestamp(now)
}
