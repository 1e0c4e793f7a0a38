package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amangrep/internal/async"
	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/order"
	"github.com/Aman-CERP/amangrep/internal/scanner"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// errBudgetExhausted stops a build that hit its storage byte budget.
// The partial catalog stays usable in advisory form.
var errBudgetExhausted = errors.New("index build stopped at its storage budget")

// idleWindow is how long after the last search the builder considers
// the process idle and skips the inter-batch pause.
const idleWindow = 2 * time.Second

// Builder drives the background catalog build for one handle. A build
// enumerates the tree, tokenizes eligible files into per-file Bloom
// filters, persists them in batches with resumable checkpoints, and
// activates the catalog atomically through the state machine. Searches
// never wait on any of it.
type Builder struct {
	h       *Handle
	cfg     *config.Config
	cache   *store.CacheManager
	scanner *scanner.Scanner
	params  bloom.Params

	lastSearch atomic.Int64 // unix nanos of the most recent search

	mu     sync.Mutex
	runner *async.Runner
}

// NewBuilder creates a builder for the handle's root.
func NewBuilder(h *Handle, cfg *config.Config, cache *store.CacheManager) (*Builder, error) {
	sc, err := scanner.New(h.key.Root)
	if err != nil {
		return nil, fmt.Errorf("creating scanner for %s: %w", h.key.Root, err)
	}
	return &Builder{
		h:       h,
		cfg:     cfg,
		cache:   cache,
		scanner: sc,
		params:  deriveParams(cfg),
	}, nil
}

// Scanner exposes the shared scanner so maintenance paths reuse its
// ignore-rule cache.
func (b *Builder) Scanner() *scanner.Scanner {
	return b.scanner
}

// NoteSearchActivity records that a search just ran. Batches pause
// while searches are active and speed up when the process is idle.
func (b *Builder) NoteSearchActivity() {
	b.lastSearch.Store(time.Now().UnixNano())
}

func (b *Builder) idle() bool {
	last := b.lastSearch.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > idleWindow
}

// Start launches a build in the background. A build already in flight
// keeps running; a finished one is replaced so rebuild triggers work.
func (b *Builder) Start(ctx context.Context) {
	b.mu.Lock()
	if b.runner != nil {
		select {
		case <-b.runner.Done():
			b.runner = nil
		default:
			b.mu.Unlock()
			return
		}
	}
	r := async.NewRunner(b.run)
	b.runner = r
	b.mu.Unlock()

	r.Start(ctx)
}

// Stop winds the current build down within the configured shutdown
// bound. Returns false when the build did not stop in time.
func (b *Builder) Stop() bool {
	b.mu.Lock()
	r := b.runner
	b.mu.Unlock()
	if r == nil {
		return true
	}
	return r.Stop(b.cfg.ShutdownTimeout())
}

// Wait blocks until the current build finishes.
func (b *Builder) Wait() error {
	b.mu.Lock()
	r := b.runner
	b.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Wait()
}

// Progress returns the live progress of the current or last build.
func (b *Builder) Progress() *async.ProgressSnapshot {
	b.mu.Lock()
	r := b.runner
	b.mu.Unlock()
	if r == nil {
		return nil
	}
	snap := r.Progress().Snapshot()
	return &snap
}

func (b *Builder) workers() int {
	if b.cfg.Index.Workers > 0 {
		return b.cfg.Index.Workers
	}
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (b *Builder) batchSize() int {
	if b.cfg.Index.BatchSize > 0 {
		return b.cfg.Index.BatchSize
	}
	return 200
}

// byteBudget returns the storage budget for the handle's mode, or 0
// for unlimited.
func (b *Builder) byteBudget() int64 {
	if b.h.StorageMode() == StorageMemory {
		return b.cfg.Storage.MemoryMaxBytes
	}
	return b.cfg.Storage.MaxTotalBytes
}

// run is the build task. It owns the maintenance slot for its whole
// duration; incremental changes queue up as dirty work meanwhile.
func (b *Builder) run(ctx context.Context, progress *async.Progress) error {
	if strings.EqualFold(b.cfg.Index.Mode, "auto") {
		ok, err := b.checkThreshold(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if b.h.StorageMode() == StoragePersist {
		lock := b.cache.Lock(b.h.key.Hash())
		got, err := lock.TryAcquire()
		if err != nil || !got {
			// Another process is building this key. Let it finish.
			b.h.transition(CoverageLost(ReasonLockContention))
			if err != nil {
				slog.Debug("build lock unavailable",
					slog.String("component", "index"),
					slog.String("error", err.Error()))
			}
			return nil
		}
		defer lock.Release()
	}

	if !b.h.acquireMaintenance(b.cfg.LockTimeout()) {
		b.h.transition(CoverageLost(ReasonLockContention))
		return nil
	}
	defer b.h.releaseMaintenance()

	status := b.h.transition(Event{Kind: EventBuildStarted})
	if status.State != StateBuilding {
		slog.Debug("build not started",
			slog.String("component", "index"),
			slog.String("state", status.String()))
		return nil
	}

	if err := b.ensureMeta(ctx); err != nil {
		return err
	}

	b.h.setAvailability(BeingRebuilt)
	defer b.h.setAvailability(Available)

	start := time.Now()
	slog.Info("index build started",
		slog.String("component", "index"),
		slog.String("root", b.h.key.Root),
		slog.String("key", b.h.key.Hash()))

	files, enumFailed, err := b.enumerate(ctx, progress)
	if err != nil {
		return err
	}

	target := b.h.Epoch() + 1
	files = b.applyCheckpoint(ctx, files, target)

	persisted, err := b.tokenizeAndPersist(ctx, progress, files, target)
	if err != nil {
		if errors.Is(err, errBudgetExhausted) {
			b.h.transition(Event{Kind: EventBudgetExhausted})
		}
		return err
	}

	progress.SetPhase(async.PhaseActivate, len(files))
	if err := b.activate(ctx, target, enumFailed); err != nil {
		return err
	}

	slog.Info("index build finished",
		slog.String("component", "index"),
		slog.String("root", b.h.key.Root),
		slog.Int("files", persisted),
		slog.String("state", b.h.Status().String()),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return nil
}

// checkThreshold sizes the tree for auto mode. Below the thresholds
// the key is disabled until a rescan says otherwise.
func (b *Builder) checkThreshold(ctx context.Context) (bool, error) {
	opts := scanner.Options{
		Root:     b.h.key.Root,
		Hidden:   b.h.key.Hidden,
		Follow:   b.h.key.Follow,
		NoIgnore: b.h.key.NoIgnore,
	}
	meets, nfiles, nbytes, err := b.scanner.Prescan(ctx, opts, b.cfg.Index.MinFiles, b.cfg.Index.MinTotalBytes)
	if err != nil {
		return false, fmt.Errorf("prescanning %s: %w", b.h.key.Root, err)
	}
	if !meets {
		slog.Debug("tree below indexing thresholds",
			slog.String("component", "index"),
			slog.String("root", b.h.key.Root),
			slog.Int("files", nfiles),
			slog.Int64("bytes", nbytes))
		b.h.transition(Event{Kind: EventBelowThreshold})
		return false, nil
	}
	if b.h.Status().State == StateDisabled {
		b.h.transition(Event{Kind: EventEnable})
	}
	return true, nil
}

// ensureMeta creates the metadata record on first build so that every
// later state change has a durable shadow.
func (b *Builder) ensureMeta(ctx context.Context) error {
	meta, err := b.h.store.Meta(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog metadata: %w", err)
	}
	if meta != nil {
		return nil
	}
	now := time.Now()
	meta = &store.MetaRecord{
		KeyHash:       b.h.key.Hash(),
		KeyJSON:       b.h.key.CanonicalJSON(),
		SchemaVersion: store.SchemaVersion,
		State:         string(StateBuilding),
		CoverageEpoch: b.h.Epoch(),
		Params:        b.params,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastAccess:    now,
	}
	if err := b.h.store.PutMeta(ctx, meta); err != nil {
		return fmt.Errorf("writing catalog metadata: %w", err)
	}
	return nil
}

// enumerate walks the tree and collects every catalogable file.
// Directory read failures do not abort the build; they mark the
// finished catalog uncertain instead.
func (b *Builder) enumerate(ctx context.Context, progress *async.Progress) ([]*scanner.FileInfo, bool, error) {
	progress.SetPhase(async.PhaseEnumerate, 0)

	opts := scanner.Options{
		Root:     b.h.key.Root,
		Hidden:   b.h.key.Hidden,
		Follow:   b.h.key.Follow,
		NoIgnore: b.h.key.NoIgnore,
	}
	stream, err := b.scanner.Scan(ctx, opts)
	if err != nil {
		return nil, false, fmt.Errorf("enumerating %s: %w", b.h.key.Root, err)
	}

	var files []*scanner.FileInfo
	enumFailed := false
	for res := range stream {
		if res.Err != nil {
			enumFailed = true
			slog.Warn("enumeration error",
				slog.String("component", "index"),
				slog.String("error", res.Err.Error()))
			continue
		}
		if res.File.HasNewline {
			// Paths with newline bytes cannot be handed to the backend
			// safely; they stay out of the catalog and are never
			// excluded.
			continue
		}
		files = append(files, res.File)
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	sortCanonical(files)
	return files, enumFailed, nil
}

// sortCanonical orders files by their ordering key. The walk emits
// per-directory name order, which disagrees with whole-path byte order
// around '/'; a checkpoint comparison is only sound when both passes
// process an identical sequence, so the build always works in key
// order.
func sortCanonical(files []*scanner.FileInfo) {
	keyed := make([]struct {
		fi  *scanner.FileInfo
		key []byte
	}, len(files))
	for i, f := range files {
		keyed[i].fi = f
		keyed[i].key = order.Key(f.RelPath)
	}
	sort.Slice(keyed, func(i, j int) bool {
		return bytes.Compare(keyed[i].key, keyed[j].key) < 0
	})
	for i := range keyed {
		files[i] = keyed[i].fi
	}
}

// applyCheckpoint drops files already persisted by an interrupted
// build targeting the same epoch. A checkpoint for a different epoch
// is stale and cleared.
func (b *Builder) applyCheckpoint(ctx context.Context, files []*scanner.FileInfo, target uint64) []*scanner.FileInfo {
	cp, err := b.h.store.LoadCheckpoint(ctx)
	if err != nil || cp == nil {
		return files
	}
	if cp.CoverageEpoch != target {
		_ = b.h.store.ClearCheckpoint(ctx)
		return files
	}

	mark := order.Key(cp.LastFile)
	skipped := 0
	out := files[:0]
	for _, f := range files {
		if bytes.Compare(order.Key(f.RelPath), mark) <= 0 {
			skipped++
			continue
		}
		out = append(out, f)
	}
	if skipped > 0 {
		slog.Info("resuming interrupted build",
			slog.String("component", "index"),
			slog.String("last_file", cp.LastFile),
			slog.Int("skipped", skipped))
	}
	return out
}

// tokenizeAndPersist processes files in batches: a bounded worker pool
// tokenizes, then the batch lands in one transaction followed by a
// checkpoint. Output order inside a batch is the input order, so the
// checkpoint always names the furthest contiguous file.
func (b *Builder) tokenizeAndPersist(ctx context.Context, progress *async.Progress, files []*scanner.FileInfo, target uint64) (int, error) {
	progress.SetPhase(async.PhaseTokenize, len(files))

	budget := b.byteBudget()
	batchSize := b.batchSize()
	pause := b.cfg.BatchPause()

	var totalBytes int64
	persisted := 0

	for off := 0; off < len(files); off += batchSize {
		if ctx.Err() != nil {
			return persisted, ctx.Err()
		}
		end := off + batchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[off:end]

		results := make([]*catalogResult, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.workers())
		for i, fi := range batch {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[i] = catalogFile(fi, b.params, b.cfg.Search.MaxFileSize, target)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return persisted, err
		}

		progress.SetPhase(async.PhasePersist, len(files))
		n, err := persistResults(ctx, b.h.store, results)
		if err != nil {
			return persisted, fmt.Errorf("persisting batch: %w", err)
		}
		totalBytes += n
		persisted += len(batch)
		for _, fi := range batch {
			progress.FileDone(fi.RelPath, fi.Size)
		}

		cp := &store.BuildCheckpoint{
			LastFile:      batch[len(batch)-1].RelPath,
			CoverageEpoch: target,
			SavedAt:       time.Now(),
		}
		if err := b.h.store.SaveCheckpoint(ctx, cp); err != nil {
			slog.Warn("saving build checkpoint failed",
				slog.String("component", "index"),
				slog.String("error", err.Error()))
		}

		if budget > 0 && totalBytes > budget {
			return persisted, errBudgetExhausted
		}

		progress.SetPhase(async.PhaseTokenize, len(files))
		if end < len(files) && pause > 0 && !(b.cfg.Index.IdleBoost && b.idle()) {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return persisted, ctx.Err()
			}
		}
	}
	return persisted, nil
}

// activate prunes entries the build did not confirm, clears the
// checkpoint, and promotes the state. Enumeration failures cap the
// outcome at UNCERTAIN so a hole in coverage can never exclude.
func (b *Builder) activate(ctx context.Context, target uint64, enumFailed bool) error {
	snap, err := b.h.store.OpenSnapshot(ctx)
	if err != nil && !errors.Is(err, store.ErrNoMeta) {
		return fmt.Errorf("opening activation snapshot: %w", err)
	}
	if err == nil {
		var stale []string
		for _, e := range snap.Files() {
			if e.ConfirmedEpoch != target {
				stale = append(stale, e.RelPath)
			}
		}
		snap.Release()
		if len(stale) > 0 {
			if err := b.h.store.DeleteFiles(ctx, stale); err != nil {
				return fmt.Errorf("pruning stale entries: %w", err)
			}
		}
	}

	if err := b.h.store.ClearCheckpoint(ctx); err != nil {
		slog.Warn("clearing build checkpoint failed",
			slog.String("component", "index"),
			slog.String("error", err.Error()))
	}

	if enumFailed {
		b.h.resolve([]Event{
			{Kind: EventBuildActivated},
			CoverageLost(ReasonEnumerationError),
		})
		return nil
	}
	b.h.transition(Event{Kind: EventBuildActivated})
	return nil
}
