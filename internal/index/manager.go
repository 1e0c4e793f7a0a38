package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/config"
	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// StorageMode names how a handle's catalog is stored.
type StorageMode string

const (
	StoragePersist StorageMode = "persist"
	StorageMemory  StorageMode = "memory"
)

// Availability is the explicit tagged state of a handle's catalog. A
// reader checks it instead of poking at a maybe-nil store, so a
// half-rebuilt catalog is structurally unobservable.
type Availability int

const (
	// Available: the catalog may be read (subject to the safety state).
	Available Availability = iota
	// BeingRebuilt: a writer holds the catalog; readers degrade.
	BeingRebuilt
)

// dirtyViewLimit bounds how much of the dirty backlog an exclusion
// view loads for its veto set. A backlog deeper than this cannot be
// vetoed file by file, so the view refuses to open and every file
// stays in the candidate set.
const dirtyViewLimit = 10000

// Handle is one index instance: a key, its catalog store, and the
// live safety status. All status changes flow through transition so
// the state machine's precedence rules always apply, and the durable
// meta record shadows every change.
type Handle struct {
	key     Key
	cfg     *config.Config
	store   store.Store
	mode    StorageMode
	cache   *store.CacheManager
	builder *Builder
	tracker *Tracker

	mu           sync.Mutex
	status       Status
	epoch        uint64
	availability Availability

	// maint serializes catalog mutation between the builder and the
	// inline maintenance paths. A channel semaphore supports bounded
	// acquisition, which sync.Mutex does not.
	maint chan struct{}
}

// Key returns the handle's index key.
func (h *Handle) Key() Key {
	return h.key
}

// StorageMode reports where the catalog lives.
func (h *Handle) StorageMode() StorageMode {
	return h.mode
}

// Status returns the current safety status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Epoch returns the current coverage epoch.
func (h *Handle) Epoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch
}

// Store exposes the catalog store for maintenance paths.
func (h *Handle) Store() store.Store {
	return h.store
}

// transition applies one state-machine event, persists the resulting
// status, and returns it. Rejected events leave the status unchanged.
func (h *Handle) transition(ev Event) Status {
	h.mu.Lock()
	next, err := Apply(h.status, ev)
	if err != nil {
		cur := h.status
		h.mu.Unlock()
		slog.Debug("index state event rejected",
			slog.String("component", "index"),
			slog.String("event", string(ev.Kind)),
			slog.String("state", cur.String()),
			slog.String("error", err.Error()))
		return cur
	}
	promoted := next.State == StateComplete && h.status.State != StateComplete
	h.status = next
	if promoted {
		h.epoch++
	}
	epoch := h.epoch
	h.mu.Unlock()

	h.persistStatus(next, epoch)
	return next
}

// resolve applies several simultaneous events under the trigger
// priority order and persists the outcome.
func (h *Handle) resolve(events []Event) Status {
	h.mu.Lock()
	next := Resolve(h.status, events)
	promoted := next.State == StateComplete && h.status.State != StateComplete
	h.status = next
	if promoted {
		h.epoch++
	}
	epoch := h.epoch
	h.mu.Unlock()

	h.persistStatus(next, epoch)
	return next
}

func (h *Handle) persistStatus(s Status, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	meta, err := h.store.Meta(ctx)
	if err != nil || meta == nil {
		return
	}
	meta.State = string(s.State)
	meta.UncertainReason = string(s.Reason)
	meta.CoverageEpoch = epoch
	meta.UpdatedAt = time.Now()
	if err := h.store.PutMeta(ctx, meta); err != nil {
		slog.Warn("persisting index state failed",
			slog.String("component", "index"),
			slog.String("key", h.key.Hash()),
			slog.String("error", err.Error()))
	}
}

// ReportCoverageLoss forces the handle out of COMPLETE for the given
// reason. Search paths call it whenever they observe drift.
func (h *Handle) ReportCoverageLoss(reason Reason) {
	h.transition(CoverageLost(reason))
}

// acquireMaintenance takes the catalog mutation slot, waiting at most
// timeout. Callers that fail must degrade, never block a search.
func (h *Handle) acquireMaintenance(timeout time.Duration) bool {
	select {
	case h.maint <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *Handle) releaseMaintenance() {
	<-h.maint
}

// setAvailability flips the tagged catalog availability.
func (h *Handle) setAvailability(a Availability) {
	h.mu.Lock()
	h.availability = a
	h.mu.Unlock()
}

// ExclusionView opens the exclusion-capable read path. It fails unless
// the post-resolution state is COMPLETE, the catalog is Available, the
// snapshot's own metadata agrees, and the stored parameters match the
// key's. Every failure degrades; none of them fails a search.
func (h *Handle) ExclusionView(ctx context.Context) (*ExclusionView, error) {
	h.mu.Lock()
	status := h.status
	avail := h.availability
	h.mu.Unlock()

	if !status.Excludable() {
		return nil, fmt.Errorf("exclusion unavailable in state %s", status)
	}
	if avail != Available {
		h.transition(CoverageLost(ReasonSnapshotUnavailable))
		return nil, fmt.Errorf("catalog is being rebuilt")
	}

	snap, byPath, err := openViewSnapshot(ctx, h.store)
	if err != nil {
		h.transition(CoverageLost(ReasonSnapshotUnavailable))
		return nil, fmt.Errorf("opening exclusion snapshot: %w", err)
	}

	meta := snap.Meta()
	if State(meta.State) != StateComplete {
		snap.Release()
		return nil, fmt.Errorf("snapshot state %s is not excludable", meta.State)
	}
	params := deriveParams(h.cfg)
	if !meta.Params.Equal(params) {
		snap.Release()
		h.transition(Event{Kind: EventMismatch})
		return nil, amerrors.New(amerrors.ErrCodeBloomParamMismatch,
			"stored filter parameters do not match the index key", nil)
	}

	entries, err := h.store.ListDirty(ctx, dirtyViewLimit+1)
	if err != nil {
		snap.Release()
		return nil, fmt.Errorf("loading dirty backlog: %w", err)
	}
	if len(entries) > dirtyViewLimit {
		// A truncated veto set could not prove any path clean.
		snap.Release()
		return nil, fmt.Errorf("dirty backlog exceeds the veto capacity (%d)", dirtyViewLimit)
	}
	dirty := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		dirty[e.RelPath] = struct{}{}
	}

	return &ExclusionView{
		snap:   snap,
		params: params,
		epoch:  meta.CoverageEpoch,
		byPath: byPath,
		dirty:  dirty,
	}, nil
}

// AdvisoryView opens the metadata-only read path. It works in any
// state that has a catalog at all, including partial builds.
func (h *Handle) AdvisoryView(ctx context.Context) (*AdvisoryView, error) {
	snap, byPath, err := openViewSnapshot(ctx, h.store)
	if err != nil {
		return nil, err
	}
	return &AdvisoryView{snap: snap, byPath: byPath}, nil
}

// Touch records an access for eviction ordering.
func (h *Handle) Touch(ctx context.Context) {
	_ = h.store.Touch(ctx, time.Now())
	if h.cache != nil {
		_ = h.cache.TouchAccess(h.key.Hash())
	}
}

// Builder returns the handle's builder, if one was started.
func (h *Handle) Builder() *Builder {
	return h.builder
}

// Tracker returns the handle's change tracker, if one was started.
func (h *Handle) Tracker() *Tracker {
	return h.tracker
}

// Close stops background work and releases the store.
func (h *Handle) Close() {
	if h.tracker != nil {
		h.tracker.Stop()
	}
	if h.builder != nil {
		h.builder.Stop()
	}
	if err := h.store.Close(); err != nil {
		slog.Warn("closing catalog store failed",
			slog.String("component", "index"),
			slog.String("key", h.key.Hash()),
			slog.String("error", err.Error()))
	}
}

// Manager owns every index handle in the process. Handles are cached
// per key hash in an LRU whose eviction closes the victim, and the
// on-disk cache budget is enforced on every open.
type Manager struct {
	cfg       *config.Config
	backendID string
	cache     *store.CacheManager

	mu      sync.Mutex
	handles *lru.Cache[string, *Handle]
}

// NewManager creates a manager over the configured cache location.
func NewManager(cfg *config.Config, backendID string) (*Manager, error) {
	max := cfg.Storage.MaxIndexes
	if max <= 0 {
		max = 16
	}
	handles, err := lru.NewWithEvict[string, *Handle](max, func(_ string, h *Handle) {
		h.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("creating handle cache: %w", err)
	}
	cache := store.NewCacheManager(cfg.CacheDir(), cfg.Storage.MaxTotalBytes, cfg.Storage.MaxIndexes)
	return &Manager{
		cfg:       cfg,
		backendID: backendID,
		cache:     cache,
		handles:   handles,
	}, nil
}

// Cache exposes the on-disk cache manager.
func (m *Manager) Cache() *store.CacheManager {
	return m.cache
}

func deriveParams(cfg *config.Config) bloom.Params {
	return bloom.DeriveParams(cfg.Index.NgramSize, cfg.Index.TargetFPR, DefaultSeed)
}

// Acquire returns the handle for one root and option set, opening or
// creating its catalog as needed. The returned handle always exists;
// indexing that is off or impossible shows up as its status, never as
// a missing handle.
func (m *Manager) Acquire(ctx context.Context, root string, opts Options) (*Handle, error) {
	key, err := NewKey(root, m.backendID, opts, m.cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles.Get(key.Hash()); ok {
		return h, nil
	}

	h, err := m.openHandle(ctx, key)
	if err != nil {
		return nil, err
	}
	m.handles.Add(key.Hash(), h)
	return h, nil
}

// Match finds an already-open handle whose index root contains the
// given canonical path. The deepest root wins.
func (m *Manager) Match(canonicalPath string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Handle
	for _, hash := range m.handles.Keys() {
		h, ok := m.handles.Peek(hash)
		if !ok {
			continue
		}
		root := h.key.Root
		if canonicalPath == root || strings.HasPrefix(canonicalPath, root+string(os.PathSeparator)) {
			if best == nil || len(h.key.Root) > len(best.key.Root) {
				best = h
			}
		}
	}
	return best, best != nil
}

// openHandle opens the catalog for one key, handling hard-off mode,
// storage fallback, corruption quarantine, and reopen semantics.
func (m *Manager) openHandle(ctx context.Context, key Key) (*Handle, error) {
	h := &Handle{
		key:    key,
		cfg:    m.cfg,
		mode:   StorageMemory,
		status: Status{State: StateAbsent},
		maint:  make(chan struct{}, 1),
	}

	if strings.EqualFold(m.cfg.Index.Mode, "off") {
		h.store = store.NewMemoryStore()
		h.status = Status{State: StateDisabled, Reason: ReasonHardDisabled}
		return h, nil
	}

	if strings.EqualFold(m.cfg.Storage.Mode, "persist") {
		st, status, epoch, ok := m.openPersistent(ctx, key)
		if ok {
			h.store = st
			h.mode = StoragePersist
			h.cache = m.cache
			h.status = status
			h.epoch = epoch
			return h, nil
		}
		// Validation or open failure: memory mode keeps acceleration
		// alive instead of turning it off.
	}

	h.store = store.NewMemoryStore()
	return h, nil
}

// openPersistent opens (or refuses) the SQLite catalog for a key.
// Returns ok=false when persistence is unusable and the caller should
// fall back to memory.
func (m *Manager) openPersistent(ctx context.Context, key Key) (store.Store, Status, uint64, bool) {
	none := Status{}
	if err := m.cache.EnsureOutsideTree(key.Root); err != nil {
		slog.Warn("cache location rejected, falling back to memory catalog",
			slog.String("component", "index"),
			slog.String("error", err.Error()))
		return nil, none, 0, false
	}
	if _, err := m.cache.EnforceLimits(); err != nil {
		slog.Warn("cache limit enforcement failed",
			slog.String("component", "index"),
			slog.String("error", err.Error()))
	}

	dbPath := m.cache.DBPath(key.Hash())
	st, err := store.OpenSQLite(dbPath)
	if err != nil {
		if amerrors.GetCategory(err) == amerrors.CategoryIntegrity {
			return m.recoverCorrupt(key, err)
		}
		slog.Warn("opening persistent catalog failed, falling back to memory",
			slog.String("component", "index"),
			slog.String("error", err.Error()))
		return nil, none, 0, false
	}

	meta, err := st.Meta(ctx)
	if err != nil {
		st.Close()
		return m.recoverCorrupt(key, err)
	}
	if meta == nil {
		return st, Status{State: StateAbsent}, 0, true
	}

	if meta.KeyJSON != key.CanonicalJSON() ||
		meta.SchemaVersion != store.SchemaVersion ||
		!meta.Params.Equal(deriveParams(m.cfg)) {
		// The stored catalog answers for a different key. It is never
		// silently reused; quarantine and start clean.
		st.Close()
		if _, qerr := m.cache.Quarantine(key.Hash(), "stored key or parameters mismatch"); qerr != nil {
			slog.Warn("quarantine of mismatched catalog failed",
				slog.String("component", "index"),
				slog.String("error", qerr.Error()))
			return nil, none, 0, false
		}
		fresh, ferr := store.OpenSQLite(dbPath)
		if ferr != nil {
			return nil, none, 0, false
		}
		return fresh, Status{State: StateAbsent}, 0, true
	}

	if State(meta.State) == StateCorrupt {
		// Corruption recorded by a previous process is handled the same
		// way as corruption detected here: quarantine, then start clean.
		st.Close()
		return m.recoverCorrupt(key, fmt.Errorf("catalog recorded corrupt: %s", meta.UncertainReason))
	}

	return st, ReopenStatus(State(meta.State), Reason(meta.UncertainReason)), meta.CoverageEpoch, true
}

// recoverCorrupt quarantines a corrupt catalog and reopens clean. When
// the quarantine itself fails the corrupt evidence stays in place and
// the key is served from memory with a CORRUPT status, which blocks
// exclusion until an operator intervenes.
func (m *Manager) recoverCorrupt(key Key, cause error) (store.Store, Status, uint64, bool) {
	slog.Warn("catalog corrupt, quarantining",
		slog.String("component", "index"),
		slog.String("key", key.Hash()),
		slog.String("error", cause.Error()))

	if _, err := m.cache.Quarantine(key.Hash(), cause.Error()); err != nil {
		return store.NewMemoryStore(), Status{State: StateCorrupt}, 0, true
	}
	st, err := store.OpenSQLite(m.cache.DBPath(key.Hash()))
	if err != nil {
		return store.NewMemoryStore(), Status{State: StateCorrupt}, 0, true
	}
	return st, Status{State: StateAbsent}, 0, true
}

// StartBackground acquires the handle for a root and starts its
// builder and change tracker. Called at process initialization for
// watch/serve surfaces; search requests never wait on it.
func (m *Manager) StartBackground(ctx context.Context, root string, opts Options) (*Handle, error) {
	h, err := m.Acquire(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	if h.Status().State == StateDisabled && h.Status().Reason == ReasonHardDisabled {
		return h, nil
	}

	if h.builder == nil {
		b, err := NewBuilder(h, m.cfg, m.cache)
		if err != nil {
			return nil, err
		}
		h.builder = b
	}
	if h.tracker == nil {
		t, err := NewTracker(h, m.cfg)
		if err != nil {
			return nil, err
		}
		h.tracker = t
		t.Start(ctx)
	}
	h.builder.Start(ctx)
	return h, nil
}

// Evict removes one index from the handle cache and from disk.
func (m *Manager) Evict(keyHash string) error {
	m.mu.Lock()
	m.handles.Remove(keyHash)
	m.mu.Unlock()
	return m.cache.Evict(keyHash)
}

// Close shuts every handle down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles.Purge()
}
