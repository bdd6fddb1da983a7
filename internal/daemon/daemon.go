// Package daemon runs the long-lived assistant process: it watches the
// vault for edits, keeps the index fresh, cycles the git mirror, sweeps
// sessions, reconciles the calendar, and hosts the notification
// scheduler, shutting all of it down together.
package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steward-bot/steward/internal/calendar"
	"github.com/steward-bot/steward/internal/mirror"
	"github.com/steward-bot/steward/internal/schedule"
	"github.com/steward-bot/steward/internal/session"
	"github.com/steward-bot/steward/internal/syncer"
	"github.com/steward-bot/steward/internal/vault"
)

// Config holds daemon timings.
type Config struct {
	// DebounceInterval batches rapid editor saves into one reindex.
	DebounceInterval time.Duration
	// MirrorInterval is how often the git mirror cycles.
	MirrorInterval time.Duration
	// SweepInterval is how often expired sessions are removed.
	SweepInterval time.Duration
	// CalendarInterval is how often external calendar changes are
	// folded back onto tasks.
	CalendarInterval time.Duration
	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		MirrorInterval:   5 * time.Minute,
		SweepInterval:    time.Minute,
		CalendarInterval: 5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the background loops.
type Daemon struct {
	root     string
	sync     *syncer.Syncer
	mirror   *mirror.Mirror
	sessions *session.Manager
	sched    *schedule.Scheduler
	cal      *calendar.Manager
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. The mirror and calendar manager are optional;
// nil disables their loops.
func New(root string, sync *syncer.Syncer, m *mirror.Mirror, sessions *session.Manager,
	sched *schedule.Scheduler, cal *calendar.Manager, config *Config) (*Daemon, error) {
	if sync == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Daemon{
		root:        root,
		sync:        sync,
		mirror:      m,
		sessions:    sessions,
		sched:       sched,
		cal:         cal,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Start runs the daemon until ctx is cancelled. It performs a full index
// rebuild first so the watcher only has to track the delta.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	result, err := d.sync.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("initial rebuild failed: %w", err)
	}
	d.config.Logger.Printf("Initial rebuild: %d tasks, %d projects, %d people, %d logs, %d skipped",
		result.Counts[vault.KindTask], result.Counts[vault.KindProject],
		result.Counts[vault.KindPerson], result.Counts[vault.KindDailyLog],
		len(result.Skipped))

	if err := d.watchVaultDirs(); err != nil {
		return err
	}

	d.wg.Add(2)
	go d.watchFileEvents(ctx)
	go d.processChangeQueue(ctx)

	if d.sessions != nil {
		d.wg.Add(1)
		go d.sweepSessions(ctx)
	}
	if d.mirror != nil {
		d.wg.Add(1)
		go d.cycleMirror(ctx)
	}
	if d.cal != nil {
		d.wg.Add(1)
		go d.reconcileCalendar(ctx)
	}
	if d.sched != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.sched.Run(ctx); err != nil && ctx.Err() == nil {
				d.config.Logger.Printf("Scheduler stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return d.Stop()
}

// Stop shuts the daemon down and waits for its loops to exit.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchVaultDirs registers the entity directories and their existing
// subdirectories. fsnotify does not recurse, so new subdirectories
// (like a fresh completed/YYYY-MM bucket) are added as they appear.
func (d *Daemon) watchVaultDirs() error {
	for _, dir := range []string{vault.TasksDir, vault.ProjectsDir, vault.PeopleDir, vault.DailyLogsDir} {
		base := filepath.Join(d.root, dir)
		if err := os.MkdirAll(base, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", base, err)
		}
		err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return d.watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", base, err)
		}
	}
	d.config.Logger.Printf("Watching vault at %s", d.root)
	return nil
}

func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					d.watchNewDir(event.Name)
					continue
				}
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			d.queueChange(event.Name)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// watchNewDir arms a watch on a directory created at runtime and queues
// anything already inside it: files can land between the directory's
// creation and the watch taking effect.
func (d *Daemon) watchNewDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return d.watcher.Add(path)
		}
		if strings.HasSuffix(path, ".md") {
			d.queueChange(path)
		}
		return nil
	})
	if err != nil {
		d.config.Logger.Printf("Failed to watch new directory %s: %v", dir, err)
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

func (d *Daemon) processPendingChanges(ctx context.Context) {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}
	if err := d.sync.ReindexPaths(ctx, ready); err != nil {
		d.config.Logger.Printf("Reindex failed: %v", err)
	}
}

func (d *Daemon) sweepSessions(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.sessions.Sweep(); err != nil {
				d.config.Logger.Printf("Session sweep failed: %v", err)
			}
		}
	}
}

func (d *Daemon) cycleMirror(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.MirrorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := d.mirror.Sync(ctx)
			if err != nil {
				d.config.Logger.Printf("Mirror sync failed: %v", err)
				continue
			}
			if len(res.PulledPaths) > 0 || len(res.Conflicts) > 0 {
				d.config.Logger.Printf("Mirror: pulled %d files, %d conflicts",
					len(res.PulledPaths), len(res.Conflicts))
			}
		}
	}
}

func (d *Daemon) reconcileCalendar(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.CalendarInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.cal.Reconcile(ctx); err != nil {
				d.config.Logger.Printf("Calendar reconcile failed: %v", err)
			}
		}
	}
}
