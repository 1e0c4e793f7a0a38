package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/store"
	"github.com/Aman-CERP/amangrep/internal/watcher"
)

// dirtyDrainLimit caps how many dirty entries one maintenance pass
// takes, so draining never starves event intake.
const dirtyDrainLimit = 256

// Tracker keeps one handle's catalog aligned with the live tree. It
// consumes debounced watcher batches, turning plain changes into dirty
// work and coverage-invalidating ones into state transitions, and runs
// the periodic maintenance that drains the queue and re-proves
// coverage. It only ever narrows what the index may do; making the
// catalog authoritative again is reconcile's job.
type Tracker struct {
	h         *Handle
	cfg       *config.Config
	w         *watcher.HybridWatcher
	reconcile *Reconciler

	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	started bool
}

// NewTracker creates a tracker for the handle's root. The watcher is
// created immediately but nothing runs until Start.
func NewTracker(h *Handle, cfg *config.Config) (*Tracker, error) {
	w, err := watcher.NewHybridWatcher(watcher.Options{
		Hidden:          h.key.Hidden,
		NoIgnore:        h.key.NoIgnore,
		DebounceWindow:  cfg.Debounce(),
		PollInterval:    cfg.PollInterval(),
		EventBufferSize: cfg.Watch.QueueCap,
	})
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		h:    h,
		cfg:  cfg,
		w:    w,
		done: make(chan struct{}),
	}
	if h.builder != nil {
		t.reconcile = NewReconciler(h, cfg, h.builder.Scanner())
	}
	return t, nil
}

// Start launches the watcher and the event loop.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.started = true

	go func() {
		if err := t.w.Start(ctx, t.h.key.Root); err != nil && ctx.Err() == nil {
			slog.Warn("watcher failed to start",
				slog.String("component", "tracker"),
				slog.String("root", t.h.key.Root),
				slog.String("error", err.Error()))
			t.h.transition(CoverageLost(ReasonWatcherDead))
		}
	}()
	go t.loop(ctx)
}

// Stop tears the watcher and the loop down.
func (t *Tracker) Stop() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if err := t.w.Stop(); err != nil {
			slog.Debug("watcher stop",
				slog.String("component", "tracker"),
				slog.String("error", err.Error()))
		}
		if t.started {
			<-t.done
		}
	})
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	drain := time.NewTicker(t.cfg.PollInterval())
	defer drain.Stop()
	rescan := time.NewTicker(t.cfg.RescanInterval())
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-t.w.Events():
			if !ok {
				t.h.transition(CoverageLost(ReasonWatcherDead))
				return
			}
			t.handleBatch(ctx, batch)

		case err, ok := <-t.w.Errors():
			if !ok {
				return
			}
			t.handleError(err)

		case <-drain.C:
			t.maintain(ctx)

		case <-rescan.C:
			t.rescan(ctx)
		}
	}
}

// handleBatch maps one debounced event batch onto dirty work and state
// events. All state events from one batch resolve together so trigger
// priority applies deterministically.
func (t *Tracker) handleBatch(ctx context.Context, batch []watcher.FileEvent) {
	var dirty []store.DirtyEntry
	var events []Event
	creates := 0

	for _, ev := range batch {
		if ev.Operation == watcher.OpCreate {
			creates++
		}
	}

	now := time.Now()
	for _, ev := range batch {
		switch ev.Operation {
		case watcher.OpIgnoreChange:
			if t.h.builder != nil {
				t.h.builder.Scanner().InvalidateIgnoreCache()
			}
			events = append(events, CoverageLost(ReasonIgnoreRulesChanged))

		case watcher.OpPolicyChange:
			events = append(events, CoverageLost(ReasonPolicyChanged))

		case watcher.OpRename:
			// The destination arrives as its own create. With no
			// create in the batch the file moved somewhere unseen and
			// the catalog cannot say where; coverage is lost.
			if creates > 0 {
				creates--
				dirty = append(dirty, store.DirtyEntry{RelPath: ev.Path, Op: dirtyOpFor(ev, true), EnqueuedAt: now})
			} else {
				events = append(events, CoverageLost(ReasonRenameUncertain))
			}

		case watcher.OpCreate, watcher.OpModify:
			dirty = append(dirty, store.DirtyEntry{RelPath: ev.Path, Op: dirtyOpFor(ev, false), EnqueuedAt: now})

		case watcher.OpDelete:
			dirty = append(dirty, store.DirtyEntry{RelPath: ev.Path, Op: dirtyOpFor(ev, true), EnqueuedAt: now})
		}
	}

	if len(events) > 0 {
		t.h.resolve(events)
	}
	if len(dirty) > 0 {
		if err := t.h.store.EnqueueDirty(ctx, dirty); err != nil {
			slog.Warn("enqueueing dirty work failed",
				slog.String("component", "tracker"),
				slog.String("error", err.Error()))
			t.h.transition(CoverageLost(ReasonSnapshotUnavailable))
		}
	}
}

// dirtyOpFor maps one event to its queue operation. Directory events
// always re-enumerate; file removals delete.
func dirtyOpFor(ev watcher.FileEvent, removal bool) store.DirtyOp {
	if ev.IsDir {
		return store.DirtySubtree
	}
	if removal {
		return store.DirtyDelete
	}
	return store.DirtyUpsert
}

func (t *Tracker) handleError(err error) {
	switch err {
	case watcher.ErrOverflow:
		t.h.transition(CoverageLost(ReasonWatcherOverflow))
	case watcher.ErrDead:
		t.h.transition(CoverageLost(ReasonWatcherDead))
	default:
		slog.Debug("watch error",
			slog.String("component", "tracker"),
			slog.String("error", err.Error()))
	}
}

// maintain drains a slice of the dirty queue and, once the queue is
// empty, lets reconcile try to re-prove coverage for an uncertain
// catalog. Skipped entirely while a build holds the maintenance slot.
func (t *Tracker) maintain(ctx context.Context) {
	st := t.h.Status().State
	if st == StateDisabled || st == StateCorrupt || st == StateAbsent || st == StateBuilding {
		return
	}
	if !t.h.acquireMaintenance(t.cfg.LockTimeout()) {
		return
	}
	defer t.h.releaseMaintenance()

	entries, err := t.h.store.TakeDirty(ctx, dirtyDrainLimit)
	if err != nil {
		slog.Warn("taking dirty work failed",
			slog.String("component", "tracker"),
			slog.String("error", err.Error()))
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := t.apply(ctx, e); err != nil {
			slog.Warn("applying dirty entry failed",
				slog.String("component", "tracker"),
				slog.String("path", e.RelPath),
				slog.String("op", string(e.Op)),
				slog.String("error", err.Error()))
			t.h.transition(CoverageLost(ReasonSnapshotUnavailable))
			return
		}
	}

	if len(entries) < dirtyDrainLimit && t.h.Status().State == StateUncertain && t.reconcile != nil {
		if err := t.reconcile.run(ctx); err != nil {
			slog.Debug("reconcile did not complete",
				slog.String("component", "tracker"),
				slog.String("error", err.Error()))
		}
	}
}

// apply executes one dirty entry against the catalog.
func (t *Tracker) apply(ctx context.Context, e store.DirtyEntry) error {
	switch e.Op {
	case store.DirtyDelete:
		return t.h.store.DeleteFiles(ctx, []string{e.RelPath})

	case store.DirtyUpsert:
		fi := statFile(t.h.key.Root, e.RelPath)
		if fi == nil {
			// Gone between the event and now.
			return t.h.store.DeleteFiles(ctx, []string{e.RelPath})
		}
		params := deriveParams(t.cfg)
		res := catalogFile(fi, params, t.cfg.Search.MaxFileSize, t.h.Epoch())
		_, err := persistResults(ctx, t.h.store, []*catalogResult{res})
		return err

	case store.DirtySubtree:
		if t.reconcile == nil {
			return t.h.store.DeleteSubtree(ctx, e.RelPath)
		}
		return t.reconcile.subtree(ctx, e.RelPath)
	}
	return nil
}

// rescan re-evaluates auto-mode thresholds and restarts the build when
// a below-threshold tree has since grown past them, or when the
// catalog fell back to ABSENT.
func (t *Tracker) rescan(ctx context.Context) {
	if t.h.builder == nil {
		return
	}
	s := t.h.Status()
	switch {
	case s.State == StateDisabled && s.Reason == ReasonBelowThreshold:
		t.h.transition(Event{Kind: EventEnable})
		t.h.builder.Start(ctx)
	case s.State == StateAbsent:
		t.h.builder.Start(ctx)
	}
}
