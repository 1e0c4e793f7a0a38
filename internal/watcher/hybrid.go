package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/amangrep/internal/ignore"
)

// ErrDead reports that the watch stream terminated while the watcher
// was still supposed to be running. Changes after that point were not
// observed.
var ErrDead = errors.New("watcher terminated unexpectedly")

// HybridWatcher watches a tree with fsnotify, falling back to polling
// when fsnotify cannot initialize.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	chain       *ignore.Chain
	events      chan []FileEvent
	errors      chan error
	stopCh      chan struct{}
	rootPath    string
	opts        Options
	mu          sync.RWMutex
	stopped     bool
	overflowed  atomic.Bool
	seenDrops   uint64 // forwarder goroutine only
}

// NewHybridWatcher creates a hybrid watcher with the given options.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.useFsnotify = false
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start begins watching the given directory recursively. It blocks
// until Stop is called or the context is cancelled; callers run it in
// its own goroutine.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.rootPath = absPath

	chain, err := ignore.NewChain(absPath)
	if err != nil {
		return fmt.Errorf("create ignore chain: %w", err)
	}
	h.mu.Lock()
	h.chain = chain
	h.mu.Unlock()

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify runs the fsnotify event loop.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				h.reportDeath()
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				h.reportDeath()
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				h.reportOverflow()
				continue
			}
			h.emitError(err)
		}
	}
}

// startPolling runs the polling fallback, forwarding its events
// through the same filtering and debouncing as fsnotify events.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.routeEvent(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// handleFsnotifyEvent converts one fsnotify event and routes it.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}
	relPath = filepath.ToSlash(relPath)

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories must be watched before anything inside
		// them changes.
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown ops do not change content or coverage.
		return
	}

	h.routeEvent(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// routeEvent classifies an event and feeds the debouncer. Ignore-file
// and policy-file edits become coverage events regardless of their
// underlying operation.
func (h *HybridWatcher) routeEvent(event FileEvent) {
	if h.shouldSkip(event.Path, event.IsDir) {
		return
	}

	base := filepath.Base(event.Path)

	if ignore.IsIgnoreFile(base) {
		h.mu.RLock()
		chain := h.chain
		h.mu.RUnlock()
		if chain != nil {
			chain.Invalidate()
		}
		// Newly unignored directories need watches; re-adding already
		// watched ones is harmless.
		if h.useFsnotify {
			_ = h.addRecursive(h.rootPath)
		}
		h.debouncer.Add(FileEvent{
			Path:      event.Path,
			Operation: OpIgnoreChange,
			Timestamp: event.Timestamp,
		})
		return
	}

	if isPolicyFile(base) {
		h.debouncer.Add(FileEvent{
			Path:      event.Path,
			Operation: OpPolicyChange,
			Timestamp: event.Timestamp,
		})
		return
	}

	h.debouncer.Add(event)
}

// forwardDebouncedEvents forwards debounced batches to the output. A
// drop can only happen while batches are queued ahead of it, so
// checking the counter on every receive observes every drop.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if d := h.debouncer.Dropped(); d > h.seenDrops {
				h.seenDrops = d
				h.reportOverflow()
			}
			if len(events) == 0 {
				continue
			}
			h.emitEvents(events)
		}
	}
}

// addRecursive adds every eligible directory under root to the
// fsnotify watch set.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, relErr := filepath.Rel(h.rootPath, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if relPath == "." {
			return h.fsWatcher.Add(path)
		}
		if h.shouldSkip(relPath, true) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

// shouldSkip applies the traversal options to one path. Paths the
// enumeration would never visit produce no events.
func (h *HybridWatcher) shouldSkip(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}

	if !h.opts.Hidden {
		for _, part := range strings.Split(relPath, "/") {
			if strings.HasPrefix(part, ".") {
				// Ignore and policy files are themselves hidden but
				// their edits still invalidate coverage.
				if !isDir && ignore.IsIgnoreFile(part) || isPolicyFile(part) {
					continue
				}
				return true
			}
		}
	}

	if h.opts.NoIgnore {
		return false
	}

	h.mu.RLock()
	chain := h.chain
	h.mu.RUnlock()
	if chain == nil {
		return false
	}
	return chain.Ignored(relPath, isDir)
}

// emitEvents sends a batch to the output channel. A full buffer means
// changes would be lost, so it flips the overflow flag instead of
// silently dropping.
func (h *HybridWatcher) emitEvents(events []FileEvent) {
	// The read lock is held across the non-blocking send so Stop
	// cannot close the channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		h.overflowed.Store(true)
		select {
		case h.errors <- ErrOverflow:
		default:
		}
		slog.Warn("watch event buffer full",
			slog.Int("batch_size", len(events)),
			slog.String("root", h.rootPath))
	}
}

// reportOverflow marks the watcher overflowed and tries to surface the
// condition on the error channel.
func (h *HybridWatcher) reportOverflow() {
	h.overflowed.Store(true)
	h.emitError(ErrOverflow)
}

// reportDeath surfaces an unexpected stream termination.
func (h *HybridWatcher) reportDeath() {
	h.emitError(ErrDead)
}

// emitError sends an error to the error channel without blocking. The
// read lock is held across the send so Stop cannot close the channel
// mid-send.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Overflowed reports whether any events have been lost since Start.
// Once true it stays true; only a successful reconcile resets trust,
// and that happens above this package.
func (h *HybridWatcher) Overflowed() bool {
	if h.overflowed.Load() || h.debouncer.Dropped() > 0 {
		return true
	}
	return h.pollWatcher != nil && h.pollWatcher.Dropped() > 0
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of watch errors. ErrOverflow and ErrDead
// are coverage-invalidating; everything else is diagnostic.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
