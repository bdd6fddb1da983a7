// Package mirror replicates the vault through a git repository. The vault
// directory is the working tree; commits record local edits, and pulls
// bring in edits made on other machines. Git is driven through the CLI so
// the mirror works with whatever credentials and transports the user's
// git already has.
package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/steward-bot/steward/internal/index"
)

// Reindexer is the slice of the sync engine the mirror needs after a
// pull: incremental refresh for clean merges, full rebuild after
// conflict resolution.
type Reindexer interface {
	ReindexPaths(ctx context.Context, paths []string) error
	RebuildIndex(ctx context.Context) error
}

// Result summarizes one sync cycle.
type Result struct {
	// Committed reports whether local edits were committed this cycle.
	Committed bool
	// Pushed reports whether local commits reached the remote.
	Pushed bool
	// PulledPaths lists vault files changed by the pull, relative to root.
	PulledPaths []string
	// Conflicts lists files that were edited on both sides; these were
	// resolved by taking the remote version wholesale.
	Conflicts []string
	// Offline is set when no remote is configured or the remote was
	// unreachable; local commits still happened.
	Offline bool
}

// Config holds mirror settings.
type Config struct {
	// Root is the vault directory, which must be a git repository root.
	Root string
	// Remote is the git remote name. Defaults to origin.
	Remote string
	// Branch is the branch to sync. Defaults to main.
	Branch string
	// FetchAttempts bounds retries on a failing fetch.
	FetchAttempts int
	// FetchBackoff is the initial retry delay, doubled per attempt.
	FetchBackoff time.Duration
}

// DefaultConfig returns mirror settings matching a stock git setup.
func DefaultConfig(root string) Config {
	return Config{
		Root:          root,
		Remote:        "origin",
		Branch:        "main",
		FetchAttempts: 3,
		FetchBackoff:  2 * time.Second,
	}
}

// Mirror synchronizes the vault repository with its remote.
type Mirror struct {
	cfg     Config
	db      *index.DB
	indexer Reindexer
	logger  *log.Logger
}

// New creates a Mirror. The vault at cfg.Root must already be a git
// repository (steward init sets one up).
func New(cfg Config, db *index.DB, indexer Reindexer, logger *log.Logger) (*Mirror, error) {
	if _, err := os.Stat(filepath.Join(cfg.Root, ".git")); err != nil {
		return nil, fmt.Errorf("vault at %s is not a git repository: %w", cfg.Root, err)
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = 2 * time.Second
	}
	return &Mirror{cfg: cfg, db: db, indexer: indexer, logger: logger}, nil
}

// run executes a git command in the vault repository.
func (m *Mirror) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.cfg.Root
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}
	return string(output), nil
}

// HasRemote reports whether the configured remote exists.
func (m *Mirror) HasRemote(ctx context.Context) bool {
	out, err := m.run(ctx, "remote")
	if err != nil {
		return false
	}
	for _, r := range strings.Fields(out) {
		if r == m.cfg.Remote {
			return true
		}
	}
	return false
}

func (m *Mirror) isDirty(ctx context.Context) (bool, error) {
	out, err := m.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (m *Mirror) head(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitLocal stages and commits any local vault edits. Returns false
// when the working tree was already clean.
func (m *Mirror) CommitLocal(ctx context.Context) (bool, error) {
	dirty, err := m.isDirty(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if _, err := m.run(ctx, "add", "-A"); err != nil {
		return false, err
	}
	msg := fmt.Sprintf("steward: vault changes %s", time.Now().UTC().Format(time.RFC3339))
	if _, err := m.run(ctx, "commit", "-m", msg); err != nil {
		return false, err
	}
	return true, nil
}

// fetch retries a failing fetch with doubling backoff. A remote that
// stays unreachable is an offline condition, not an error.
func (m *Mirror) fetch(ctx context.Context) error {
	delay := m.cfg.FetchBackoff
	var lastErr error
	for attempt := 1; attempt <= m.cfg.FetchAttempts; attempt++ {
		if _, lastErr = m.run(ctx, "fetch", m.cfg.Remote, m.cfg.Branch); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < m.cfg.FetchAttempts {
			m.logger.Printf("[mirror] fetch attempt %d/%d failed, retrying in %s",
				attempt, m.cfg.FetchAttempts, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return lastErr
}

// changedPaths lists files that differ between two commits.
func (m *Mirror) changedPaths(ctx context.Context, from, to string) ([]string, error) {
	out, err := m.run(ctx, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// conflictedPaths lists unmerged files during a conflicted merge.
func (m *Mirror) conflictedPaths(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// Sync runs one full mirror cycle: commit local edits, pull the remote,
// resolve conflicts remote-wins per file, refresh the index, push.
//
// A file edited on both sides since the last common commit takes the
// remote version in its entirety; the local edit survives in git history
// but not in the working tree. Partial merges of a single entity file are
// never attempted.
func (m *Mirror) Sync(ctx context.Context) (*Result, error) {
	res := &Result{}

	committed, err := m.CommitLocal(ctx)
	if err != nil {
		return nil, err
	}
	res.Committed = committed

	if !m.HasRemote(ctx) {
		res.Offline = true
		m.logger.Printf("[mirror] no remote %q configured, local commit only", m.cfg.Remote)
		return res, nil
	}

	if err := m.fetch(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		res.Offline = true
		m.logger.Printf("[mirror] remote unreachable, will retry next cycle: %v", err)
		return res, nil
	}

	remoteRef := m.cfg.Remote + "/" + m.cfg.Branch
	remoteHead, err := m.run(ctx, "rev-parse", remoteRef)
	if err != nil {
		// Remote branch does not exist yet: first push creates it.
		if _, err := m.run(ctx, "push", "-u", m.cfg.Remote, m.cfg.Branch); err != nil {
			return nil, err
		}
		res.Pushed = true
		return res, m.record(ctx)
	}
	remoteHead = strings.TrimSpace(remoteHead)

	localHead, err := m.head(ctx)
	if err != nil {
		return nil, err
	}

	if remoteHead != localHead {
		baseOut, err := m.run(ctx, "merge-base", "HEAD", remoteRef)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSpace(baseOut)

		if base != remoteHead {
			// The remote moved; merge it in.
			pulled, err := m.changedPaths(ctx, base, remoteRef)
			if err != nil {
				return nil, err
			}
			localChanged, err := m.changedPaths(ctx, base, localHead)
			if err != nil {
				return nil, err
			}
			dual := intersect(localChanged, pulled)
			if _, err := m.run(ctx, "merge", "--no-edit", remoteRef); err != nil {
				conflicts, cerr := m.conflictedPaths(ctx)
				if cerr != nil || len(conflicts) == 0 {
					// Not a content conflict; give up on this cycle.
					if _, aerr := m.run(ctx, "merge", "--abort"); aerr != nil {
						m.logger.Printf("[mirror] merge abort failed: %v", aerr)
					}
					return nil, err
				}
				for _, path := range conflicts {
					if _, err := m.run(ctx, "checkout", "--theirs", "--", path); err != nil {
						return nil, err
					}
					m.logger.Printf("[mirror] conflict on %s: keeping remote version", path)
				}
				if _, err := m.run(ctx, "add", "-A"); err != nil {
					return nil, err
				}
				if _, err := m.run(ctx, "commit", "--no-edit"); err != nil {
					return nil, err
				}
				res.Conflicts = conflicts
			}

			// Files touched on both sides that git merged cleanly (edits
			// on distant lines) still take the remote version whole; a
			// line-level merge of one entity file is never kept.
			resolved := make(map[string]bool, len(res.Conflicts))
			for _, path := range res.Conflicts {
				resolved[path] = true
			}
			var overridden []string
			for _, path := range dual {
				if resolved[path] {
					continue
				}
				if _, err := m.run(ctx, "checkout", remoteRef, "--", path); err != nil {
					return nil, err
				}
				m.logger.Printf("[mirror] %s edited on both sides: keeping remote version", path)
				overridden = append(overridden, path)
			}
			if len(overridden) > 0 {
				dirty, err := m.isDirty(ctx)
				if err != nil {
					return nil, err
				}
				if dirty {
					if _, err := m.run(ctx, "add", "-A"); err != nil {
						return nil, err
					}
					if _, err := m.run(ctx, "commit", "-m", "steward: remote wins on dual edits"); err != nil {
						return nil, err
					}
				}
				res.Conflicts = append(res.Conflicts, overridden...)
			}
			res.PulledPaths = pulled

			if err := m.refreshIndex(ctx, res); err != nil {
				return nil, err
			}
		}
	}

	if _, err := m.run(ctx, "push", m.cfg.Remote, m.cfg.Branch); err != nil {
		// Racing pushers are resolved next cycle; the fetch at its start
		// will pick their commits up.
		m.logger.Printf("[mirror] push failed, will retry next cycle: %v", err)
	} else {
		res.Pushed = true
	}

	return res, m.record(ctx)
}

// intersect returns the elements of a that also appear in b, in a's order.
func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}

// refreshIndex brings the SQLite index up to date after a pull. Clean
// merges reindex just the pulled files; conflict resolution rewrites
// history in ways cheap tracking cannot follow, so it triggers a full
// rebuild.
func (m *Mirror) refreshIndex(ctx context.Context, res *Result) error {
	if len(res.Conflicts) > 0 {
		return m.indexer.RebuildIndex(ctx)
	}
	abs := make([]string, 0, len(res.PulledPaths))
	for _, p := range res.PulledPaths {
		abs = append(abs, filepath.Join(m.cfg.Root, p))
	}
	return m.indexer.ReindexPaths(ctx, abs)
}

// record persists the sync high-water mark.
func (m *Mirror) record(ctx context.Context) error {
	head, err := m.head(ctx)
	if err != nil {
		return err
	}
	if err := m.db.SetMirrorState("last_synced_commit", head); err != nil {
		return err
	}
	return m.db.SetMirrorState("last_sync_at", time.Now().UTC().Format(time.RFC3339))
}
