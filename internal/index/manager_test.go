package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/config"
	"github.com/Aman-CERP/amangrep/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Mode = "always"
	cfg.Index.MinFiles = 0
	cfg.Index.MinTotalBytes = 0
	cfg.Index.BatchPause = "0s"
	cfg.Storage.Mode = "memory"
	cfg.Storage.CacheDir = t.TempDir()
	return cfg
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func removeFile(t *testing.T, root, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(rel))))
}

// buildComplete runs a full build on the handle and requires that it
// reached COMPLETE.
func buildComplete(t *testing.T, h *Handle, cfg *config.Config, cache *store.CacheManager) *Builder {
	t.Helper()
	b, err := NewBuilder(h, cfg, cache)
	require.NoError(t, err)
	h.builder = b
	b.Start(context.Background())
	require.NoError(t, b.Wait())
	require.Equal(t, StateComplete, h.Status().State)
	return b
}

func TestManager_Acquire_SameKeySharesHandle(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h1, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	h2, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Same(t, h1, h2)
}

func TestManager_Acquire_DistinctOptionsGetDistinctHandles(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	plain, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	hidden, err := m.Acquire(context.Background(), root, Options{Hidden: true})
	require.NoError(t, err)

	assert.NotSame(t, plain, hidden)
	assert.NotEqual(t, plain.Key().Hash(), hidden.Key().Hash())
}

func TestManager_Acquire_HardOffDisablesHandle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Mode = "off"
	root := t.TempDir()

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, Status{State: StateDisabled, Reason: ReasonHardDisabled}, h.Status())
	assert.False(t, h.Status().Excludable())
}

func TestManager_Match_DeepestRootWins(t *testing.T) {
	cfg := testConfig(t)
	outer := t.TempDir()
	inner := filepath.Join(outer, "sub", "project")
	require.NoError(t, os.MkdirAll(inner, 0o755))

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	ho, err := m.Acquire(context.Background(), outer, Options{})
	require.NoError(t, err)
	hi, err := m.Acquire(context.Background(), inner, Options{})
	require.NoError(t, err)

	got, ok := m.Match(filepath.Join(inner, "pkg"))
	require.True(t, ok)
	assert.Same(t, hi, got)

	got, ok = m.Match(filepath.Join(outer, "other"))
	require.True(t, ok)
	assert.Same(t, ho, got)

	_, ok = m.Match(filepath.Join(t.TempDir(), "elsewhere"))
	assert.False(t, ok)
}

func TestHandle_Transition_PromotionBumpsEpoch(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), h.Epoch())

	h.transition(Event{Kind: EventBuildStarted})
	assert.Equal(t, uint64(0), h.Epoch())

	h.transition(Event{Kind: EventBuildActivated})
	assert.Equal(t, StateComplete, h.Status().State)
	assert.Equal(t, uint64(1), h.Epoch())

	// A rejected event changes nothing.
	h.transition(Event{Kind: EventBudgetExhausted})
	assert.Equal(t, StateComplete, h.Status().State)
	assert.Equal(t, uint64(1), h.Epoch())
}

func TestHandle_ExclusionView_RequiresComplete(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)

	_, err = h.ExclusionView(context.Background())
	assert.Error(t, err)
}

func TestHandle_ExclusionView_DirtyBacklogVetoesExclusion(t *testing.T) {
	// Given: a complete catalog over one file
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha contents")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	buildComplete(t, h, cfg, m.Cache())

	grams, ok := bloom.PatternGrams("zqxjkv", cfg.Index.NgramSize, bloom.Sensitive)
	require.True(t, ok)

	view, err := h.ExclusionView(context.Background())
	require.NoError(t, err)
	assert.True(t, view.ProvesAbsent("a.txt", bloom.Sensitive, grams))
	require.NoError(t, view.Release())

	// When: the file has pending dirty work
	require.NoError(t, h.Store().EnqueueDirty(context.Background(), []store.DirtyEntry{
		{RelPath: "a.txt", Op: store.DirtyUpsert},
	}))

	// Then: the stale filter may no longer exclude it
	view, err = h.ExclusionView(context.Background())
	require.NoError(t, err)
	assert.False(t, view.ProvesAbsent("a.txt", bloom.Sensitive, grams))
	require.NoError(t, view.Release())
}

func TestHandle_ExclusionView_DeepBacklogRefusesToOpen(t *testing.T) {
	// Given: a complete catalog whose dirty backlog overflows the
	// bounded veto set, with the cataloged file's own entry beyond the
	// first page
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "zz-target.txt", "alpha contents")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	buildComplete(t, h, cfg, m.Cache())

	backlog := make([]store.DirtyEntry, 0, dirtyViewLimit+1)
	for i := 0; i < dirtyViewLimit; i++ {
		backlog = append(backlog, store.DirtyEntry{
			RelPath: fmt.Sprintf("filler-%05d.txt", i),
			Op:      store.DirtyUpsert,
		})
	}
	backlog = append(backlog, store.DirtyEntry{RelPath: "zz-target.txt", Op: store.DirtyUpsert})
	require.NoError(t, h.Store().EnqueueDirty(context.Background(), backlog))

	// Then: no view opens at all; a truncated veto set could otherwise
	// exclude the file on its stale filter
	_, err = h.ExclusionView(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateComplete, h.Status().State)
}

func TestManager_PersistentReopen_RequiresValidation(t *testing.T) {
	// Given: a persisted catalog that completed a build
	cfg := testConfig(t)
	cfg.Storage.Mode = "persist"
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha")
	writeTestFile(t, root, "b.txt", "bravo")

	m1, err := NewManager(cfg, "rg")
	require.NoError(t, err)

	h1, err := m1.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Equal(t, StoragePersist, h1.StorageMode())
	buildComplete(t, h1, cfg, m1.Cache())
	m1.Close()

	// When: a fresh process opens the same key
	m2, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m2.Close()

	h2, err := m2.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	// Then: the stored COMPLETE claim is not trusted until validated
	assert.Equal(t, Status{State: StateUncertain, Reason: ReasonOpenRequiresValidation}, h2.Status())
	assert.False(t, h2.Status().Excludable())
	assert.Equal(t, uint64(1), h2.Epoch())
}

func TestManager_PersistentReopen_CorruptRecordIsQuarantined(t *testing.T) {
	// Given: a persisted catalog whose last process recorded corruption
	cfg := testConfig(t)
	cfg.Storage.Mode = "persist"
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha")

	m1, err := NewManager(cfg, "rg")
	require.NoError(t, err)

	h1, err := m1.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Equal(t, StoragePersist, h1.StorageMode())
	buildComplete(t, h1, cfg, m1.Cache())
	h1.transition(Event{Kind: EventCorruption})
	require.Equal(t, StateCorrupt, h1.Status().State)
	m1.Close()

	// When: a fresh process opens the same key
	m2, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m2.Close()

	h2, err := m2.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	// Then: the corrupt catalog was moved aside and the key starts clean
	assert.Equal(t, Status{State: StateAbsent}, h2.Status())
	assert.Equal(t, uint64(0), h2.Epoch())
	assert.Equal(t, StoragePersist, h2.StorageMode())

	entry, err := h2.Store().GetFile(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestManager_PersistFallsBackToMemoryInsideTree(t *testing.T) {
	// A cache directory inside the searched tree would index itself.
	cfg := testConfig(t)
	cfg.Storage.Mode = "persist"
	root := t.TempDir()
	cfg.Storage.CacheDir = filepath.Join(root, ".cache")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, h.StorageMode())
}

func TestHandle_AdvisoryView_SurvivesUncertainty(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	buildComplete(t, h, cfg, m.Cache())
	h.ReportCoverageLoss(ReasonWatcherOverflow)
	require.Equal(t, StateUncertain, h.Status().State)

	// Exclusion is gone but ordering metadata still serves.
	_, err = h.ExclusionView(context.Background())
	assert.Error(t, err)

	adv, err := h.AdvisoryView(context.Background())
	require.NoError(t, err)
	defer adv.Release()
	assert.Equal(t, 1, adv.FileCount())
}
