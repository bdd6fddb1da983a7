package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Vault directory layout, matching the conventional Obsidian structure the
// assistant manages. Completed tasks are bucketed by month to keep the
// active folder small.
const (
	TasksDir     = "01-tasks"
	ProjectsDir  = "02-projects"
	PeopleDir    = "03-people"
	DailyLogsDir = "04-daily-logs"

	taskActiveDir    = TasksDir + "/active"
	taskSomedayDir   = TasksDir + "/someday"
	taskCompletedDir = TasksDir + "/completed"
)

// FileName returns the canonical file name for a document. Daily logs are
// named by date; everything else by kind prefix and identifier.
func FileName(doc *Document) string {
	switch doc.Kind {
	case KindTask:
		return fmt.Sprintf("task-%s.md", doc.ID)
	case KindProject:
		return fmt.Sprintf("project-%s.md", doc.ID)
	case KindPerson:
		return fmt.Sprintf("person-%s.md", doc.ID)
	case KindDailyLog:
		return doc.String("date") + ".md"
	}
	return doc.ID + ".md"
}

// CanonicalPath returns where a document belongs under root given its kind
// and current status. The path is a projection, not identity: a status
// change moves the file but the id stays put.
func CanonicalPath(root string, doc *Document) (string, error) {
	var dir string
	switch doc.Kind {
	case KindTask:
		switch doc.String("status") {
		case TaskStatusCompleted:
			dir = filepath.Join(taskCompletedDir, monthBucket(doc))
		case TaskStatusSomeday:
			dir = taskSomedayDir
		default:
			dir = taskActiveDir
		}
	case KindProject:
		dir = ProjectsDir
	case KindPerson:
		dir = PeopleDir
	case KindDailyLog:
		dir = DailyLogsDir
	default:
		return "", fmt.Errorf("unknown kind %q", doc.Kind)
	}
	return filepath.Join(root, dir, FileName(doc)), nil
}

// monthBucket picks the YYYY-MM archive folder for a completed task,
// preferring completed_at, then updated_at, then the current time.
func monthBucket(doc *Document) string {
	for _, key := range []string{"completed_at", "updated_at"} {
		if ts := doc.String(key); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return t.Format("2006-01")
			}
		}
	}
	return time.Now().Format("2006-01")
}

// Identify infers the kind and identifier of the entity a vault path
// refers to, from the directory and file name alone. It is the only way
// to attribute a deletion event, since the file no longer exists to read.
// Reports false for paths outside the entity layout.
func Identify(root, path string) (Kind, string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	rel = filepath.ToSlash(rel)
	name := filepath.Base(rel)
	if !strings.HasSuffix(name, ".md") {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, ".md")

	switch {
	case strings.HasPrefix(rel, TasksDir+"/") && strings.HasPrefix(stem, "task-"):
		return KindTask, strings.TrimPrefix(stem, "task-"), true
	case strings.HasPrefix(rel, ProjectsDir+"/") && strings.HasPrefix(stem, "project-"):
		return KindProject, strings.TrimPrefix(stem, "project-"), true
	case strings.HasPrefix(rel, PeopleDir+"/") && strings.HasPrefix(stem, "person-"):
		return KindPerson, strings.TrimPrefix(stem, "person-"), true
	case strings.HasPrefix(rel, DailyLogsDir+"/"):
		return KindDailyLog, "log-" + stem, true
	}
	return "", "", false
}

// ReadFile reads and decodes a single entity document.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// WriteFile encodes and writes a document to path, creating parent
// directories as needed.
func WriteFile(path string, doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// FindFile locates an entity's current file by identifier, searching every
// lifecycle folder for its kind. Returns "" when no file exists. Identity
// lives in the id, so this never trusts a previously recorded path.
func FindFile(root string, kind Kind, id string) (string, error) {
	doc := &Document{Kind: kind, ID: id}
	if kind == KindDailyLog {
		// Log ids are "log-<date>"; the file is named by the date.
		doc.Fields = map[string]any{"date": strings.TrimPrefix(id, "log-")}
		path, err := CanonicalPath(root, doc)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", nil
	}

	want := FileName(doc)
	var searchDirs []string
	switch kind {
	case KindTask:
		searchDirs = []string{filepath.Join(root, TasksDir)}
	case KindProject:
		searchDirs = []string{filepath.Join(root, ProjectsDir)}
	case KindPerson:
		searchDirs = []string{filepath.Join(root, PeopleDir)}
	default:
		return "", fmt.Errorf("unknown kind %q", kind)
	}

	var found string
	for _, dir := range searchDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return fs.SkipAll
				}
				return err
			}
			if !d.IsDir() && d.Name() == want {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("search %s: %w", dir, err)
		}
		if found != "" {
			return found, nil
		}
	}
	return "", nil
}
