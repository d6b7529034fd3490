// Package watcher keeps the temporal index current by reacting to git
// ref changes. It combines inotify on .git/HEAD and .git/refs/heads
// with a polling fallback for filesystems where inotify is unreliable.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
	"github.com/jsbattig/code-indexer-sub032/internal/progress"
	"github.com/jsbattig/code-indexer-sub032/internal/temporal"
)

// DefaultPollInterval is the fallback scan cadence.
const DefaultPollInterval = 5 * time.Second

// Watcher triggers temporal indexing runs when the repository's head
// moves. A branch switch is handled by the same mechanism: the run
// indexes whatever commits became reachable and are not yet in the
// completed set.
type Watcher struct {
	root    string
	repo    *temporal.Repo
	indexer *temporal.Indexer
	log     *slog.Logger
	poll    time.Duration

	syncing atomic.Bool
	// Syncs counts completed sync passes, for observability.
	syncs atomic.Int64
}

// New builds a watcher over an existing temporal indexer.
func New(root string, repo *temporal.Repo, ix *temporal.Indexer, poll time.Duration, log *slog.Logger) *Watcher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{root: root, repo: repo, indexer: ix, log: log, poll: poll}
}

// Syncs reports how many sync passes have completed.
func (w *Watcher) Syncs() int64 { return w.syncs.Load() }

// Run watches until the context is cancelled. It performs one initial
// sync so a watcher started behind the repository catches up
// immediately.
func (w *Watcher) Run(ctx context.Context, onProgress progress.Func) error {
	events := make(chan struct{}, 1)

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsw.Close()
		gitDir := filepath.Join(w.root, ".git")
		for _, p := range []string{
			filepath.Join(gitDir, "HEAD"),
			filepath.Join(gitDir, "refs", "heads"),
		} {
			if werr := fsw.Add(p); werr != nil && w.log != nil {
				w.log.Warn("watch registration failed, relying on polling", "path", p, "error", werr)
			}
		}
		go w.forwardEvents(ctx, fsw, events)
	} else if w.log != nil {
		w.log.Warn("inotify unavailable, polling only", "error", err)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.sync(ctx, onProgress)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
			w.sync(ctx, onProgress)
		case <-ticker.C:
			w.sync(ctx, onProgress)
		}
	}
}

// forwardEvents coalesces raw fsnotify events into sync triggers. Only
// ref-shaped paths count; editors and git produce plenty of unrelated
// churn inside .git.
func (w *Watcher) forwardEvents(ctx context.Context, fsw *fsnotify.Watcher, events chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isRefEvent(ev) {
				continue
			}
			select {
			case events <- struct{}{}:
			default:
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("watch error", "error", err)
			}
		}
	}
}

func isRefEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.ToSlash(ev.Name)
	return strings.HasSuffix(name, "/HEAD") || strings.Contains(name, "/refs/heads/")
}

// sync runs one temporal indexing pass over the commits reachable from
// the current head that are not yet completed. Passes never overlap; a
// trigger landing mid-run is covered by the next tick.
func (w *Watcher) sync(ctx context.Context, onProgress progress.Func) {
	if !w.syncing.CompareAndSwap(false, true) {
		return
	}
	defer w.syncing.Store(false)

	done, err := w.indexer.Run(ctx, temporal.Strategy{Kind: temporal.StrategyAll}, onProgress)
	if err != nil {
		if ierr.HasCode(err, ierr.ErrCodeCancelled) || ctx.Err() != nil {
			return
		}
		if w.log != nil {
			w.log.Error("temporal sync failed", "error", err)
		}
		return
	}
	if done > 0 && w.log != nil {
		w.log.Info("temporal sync indexed new commits", "commits", done)
	}
	w.syncs.Add(1)
}
