package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FileService is a calendar backed by a single JSON file. It serves
// users without an external calendar and doubles as the local cache of
// record for what the assistant has scheduled.
type FileService struct {
	path string
	mu   sync.Mutex
}

// NewFileService creates a file-backed calendar at path.
func NewFileService(path string) *FileService {
	return &FileService{path: path}
}

type fileEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *FileService) load() ([]fileEvent, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", s.path, err)
	}
	var events []fileEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", s.path, err)
	}
	return events, nil
}

func (s *FileService) save(events []fileEvent) error {
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write calendar %s: %w", s.path, err)
	}
	return nil
}

// CreateEvent adds an event and returns its generated id.
func (s *FileService) CreateEvent(_ context.Context, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.load()
	if err != nil {
		return "", err
	}
	id := ulid.Make().String()
	events = append(events, fileEvent{ID: id, Title: ev.Title, Start: ev.Start, End: ev.End})
	return id, s.save(events)
}

// UpdateEvent rewrites an existing event in place.
func (s *FileService) UpdateEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.load()
	if err != nil {
		return err
	}
	for i := range events {
		if events[i].ID == ev.ID {
			events[i].Title = ev.Title
			events[i].Start = ev.Start
			events[i].End = ev.End
			return s.save(events)
		}
	}
	return fmt.Errorf("event %s not found", ev.ID)
}

// DeleteEvent removes an event. Deleting an unknown id is a no-op.
func (s *FileService) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.load()
	if err != nil {
		return err
	}
	kept := events[:0]
	for _, ev := range events {
		if ev.ID != id {
			kept = append(kept, ev)
		}
	}
	return s.save(kept)
}

// FindSlots walks the gaps between events in [from, to) and returns
// those long enough to hold d.
func (s *FileService) FindSlots(ctx context.Context, d time.Duration, from, to time.Time) ([]Slot, error) {
	if d <= 0 || !from.Before(to) {
		return nil, nil
	}
	events, err := s.ListEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	var slots []Slot
	cursor := from
	for _, ev := range events {
		if ev.Start.Sub(cursor) >= d {
			slots = append(slots, Slot{Start: cursor, End: ev.Start})
		}
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	if to.Sub(cursor) >= d {
		slots = append(slots, Slot{Start: cursor, End: to})
	}
	return slots, nil
}

// ListEvents returns events overlapping [from, to).
func (s *FileService) ListEvents(_ context.Context, from, to time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.load()
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, ev := range stored {
		if ev.End.After(from) && ev.Start.Before(to) {
			events = append(events, Event{ID: ev.ID, Title: ev.Title, Start: ev.Start, End: ev.End})
		}
	}
	return events, nil
}
