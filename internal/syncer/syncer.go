// Package syncer keeps the markdown vault and the SQLite index in
// agreement. The vault is the source of truth; the index is a disposable
// projection that can always be rebuilt from the files.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/vault"
)

// ErrNotFound is returned when an entity id has no file in the vault.
var ErrNotFound = errors.New("entity not found")

// RebuildResult summarizes a full rebuild: how many entities of each kind
// were indexed and which files were skipped as malformed.
type RebuildResult struct {
	Counts  map[vault.Kind]int
	Skipped []vault.SkippedFile
}

// Syncer coordinates all writes that touch both the vault and the index.
type Syncer struct {
	root   string
	db     *index.DB
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time

	// Per-entity write locks so concurrent mutations of the same id
	// serialize instead of losing updates.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// A newer rebuild supersedes any rebuild still in flight: the old
	// one is cancelled and aborts before commit.
	rebuildMu     sync.Mutex
	cancelRebuild context.CancelFunc
}

// New creates a Syncer over the vault rooted at root.
func New(root string, db *index.DB, logger *log.Logger) *Syncer {
	return &Syncer{
		root:   root,
		db:     db,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Syncer) entityLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Rebuild scans the entire vault and atomically replaces the index
// contents with what it finds. Malformed files are skipped and reported,
// never fatal. Starting a new rebuild cancels any rebuild still running;
// the superseded one aborts without committing.
func (s *Syncer) Rebuild(ctx context.Context) (*RebuildResult, error) {
	s.rebuildMu.Lock()
	if s.cancelRebuild != nil {
		s.cancelRebuild()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelRebuild = cancel
	s.rebuildMu.Unlock()
	defer cancel()

	files, skipped, err := vault.Scan(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault: %w", err)
	}
	for _, sk := range skipped {
		s.logger.Printf("[syncer] skipping %s: %s", sk.Path, sk.Reason)
	}

	if err := s.db.ReplaceAll(ctx, files); err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	result := &RebuildResult{
		Counts:  make(map[vault.Kind]int, len(vault.Kinds)),
		Skipped: skipped,
	}
	for _, k := range vault.Kinds {
		result.Counts[k] = 0
	}
	for _, f := range files {
		result.Counts[f.Doc.Kind]++
	}
	s.logger.Printf("[syncer] rebuilt index: %d files, %d skipped", len(files), len(skipped))
	return result, nil
}

// RebuildIndex is Rebuild for callers that do not need the summary.
func (s *Syncer) RebuildIndex(ctx context.Context) error {
	_, err := s.Rebuild(ctx)
	return err
}

// CreateEntity validates a new document, writes its file to the canonical
// location, and indexes it. If indexing fails the file is removed again so
// the two stores never diverge on a create.
func (s *Syncer) CreateEntity(ctx context.Context, doc *vault.Document) (vault.File, error) {
	if err := doc.Validate(); err != nil {
		return vault.File{}, fmt.Errorf("invalid %s: %w", doc.Kind, err)
	}

	mu := s.entityLock(doc.ID)
	mu.Lock()
	defer mu.Unlock()

	path, err := vault.CanonicalPath(s.root, doc)
	if err != nil {
		return vault.File{}, err
	}
	if err := vault.WriteFile(path, doc); err != nil {
		return vault.File{}, err
	}

	f := vault.File{Path: path, Doc: doc}
	if err := s.db.UpsertFile(ctx, f); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Printf("[syncer] failed to roll back %s: %v", path, rmErr)
		}
		return vault.File{}, fmt.Errorf("failed to index new %s: %w", doc.Kind, err)
	}
	return f, nil
}

// UpdateEntity applies a mutation to an entity: locate the file by id,
// apply fn, stamp updated_at, write the file back, and reindex. When the
// mutation changes the document's lifecycle folder (say a task moving to
// completed) the file is moved to its new canonical location.
func (s *Syncer) UpdateEntity(ctx context.Context, kind vault.Kind, id string, fn func(*vault.Document) error) (vault.File, error) {
	mu := s.entityLock(id)
	mu.Lock()
	defer mu.Unlock()

	path, err := s.locate(kind, id)
	if err != nil {
		return vault.File{}, err
	}
	doc, err := vault.ReadFile(path)
	if err != nil {
		return vault.File{}, err
	}
	if err := fn(doc); err != nil {
		return vault.File{}, err
	}
	doc.Touch(s.now())
	if err := doc.Validate(); err != nil {
		return vault.File{}, fmt.Errorf("invalid %s after update: %w", kind, err)
	}

	newPath, err := vault.CanonicalPath(s.root, doc)
	if err != nil {
		return vault.File{}, err
	}
	if err := vault.WriteFile(newPath, doc); err != nil {
		return vault.File{}, err
	}
	if newPath != path {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return vault.File{}, fmt.Errorf("failed to move %s: %w", path, err)
		}
	}

	f := vault.File{Path: newPath, Doc: doc}
	if err := s.db.UpsertFile(ctx, f); err != nil {
		return vault.File{}, fmt.Errorf("failed to reindex %s %s: %w", kind, id, err)
	}
	return f, nil
}

// GetEntity reads an entity's current document straight from the vault.
func (s *Syncer) GetEntity(kind vault.Kind, id string) (vault.File, error) {
	path, err := s.locate(kind, id)
	if err != nil {
		return vault.File{}, err
	}
	doc, err := vault.ReadFile(path)
	if err != nil {
		return vault.File{}, err
	}
	return vault.File{Path: path, Doc: doc}, nil
}

// locate resolves an id to its current file. The indexed path is only a
// hint: it is verified against the filesystem and falls back to a vault
// search, because files move between lifecycle folders.
func (s *Syncer) locate(kind vault.Kind, id string) (string, error) {
	if hint, err := s.db.FilePath(kind, id); err == nil && hint != "" {
		if _, statErr := os.Stat(hint); statErr == nil {
			return hint, nil
		}
	}
	path, err := vault.FindFile(s.root, kind, id)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return path, nil
}

// ReindexPaths incrementally refreshes the index for a set of changed
// paths, as reported by the file watcher or a mirror pull. Existing files
// are re-read and upserted; vanished files have their entity rows removed.
// Malformed files are logged and left out of the index.
func (s *Syncer) ReindexPaths(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := s.reindexOne(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) reindexOne(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		kind, id, ok := vault.Identify(s.root, path)
		if !ok {
			return nil
		}
		// The entity may have moved rather than been deleted: only drop
		// the row when no file anywhere in the vault carries the id.
		current, err := vault.FindFile(s.root, kind, id)
		if err != nil {
			return err
		}
		if current != "" {
			return s.reindexOne(ctx, current)
		}
		s.logger.Printf("[syncer] removing %s %s (file deleted)", kind, id)
		return s.db.DeleteEntity(ctx, kind, id)
	}

	doc, err := vault.ReadFile(path)
	if err != nil {
		s.logger.Printf("[syncer] skipping %s: %v", path, err)
		return nil
	}
	if err := doc.Validate(); err != nil {
		s.logger.Printf("[syncer] skipping %s: %v", path, err)
		return nil
	}
	return s.db.UpsertFile(ctx, vault.File{Path: path, Doc: doc})
}
