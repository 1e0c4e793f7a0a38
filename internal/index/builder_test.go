package index

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amangrep/internal/async"
	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/store"
)

func TestBuilder_Build_CompletesAndExcludes(t *testing.T) {
	// Given: a small tree
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "main.go", "package main\nfunc main() {}\n")
	writeTestFile(t, root, "docs/readme.md", "usage notes\n")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	// When: a build runs to completion
	b := buildComplete(t, h, cfg, m.Cache())

	// Then: progress reports ready and the catalog excludes soundly
	snap := b.Progress()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.FilesDone)

	view, err := h.ExclusionView(context.Background())
	require.NoError(t, err)
	defer view.Release()

	absent, ok := bloom.PatternGrams("zqxjkv", cfg.Index.NgramSize, bloom.Sensitive)
	require.True(t, ok)
	present, ok := bloom.PatternGrams("package", cfg.Index.NgramSize, bloom.Sensitive)
	require.True(t, ok)

	assert.True(t, view.ProvesAbsent("main.go", bloom.Sensitive, absent))
	assert.False(t, view.ProvesAbsent("main.go", bloom.Sensitive, present))
	// A file the catalog has never seen is never excluded.
	assert.False(t, view.ProvesAbsent("missing.go", bloom.Sensitive, absent))
}

func TestBuilder_Build_AutoModeBelowThresholdDisables(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Mode = "auto"
	cfg.Index.MinFiles = 100
	cfg.Index.MinTotalBytes = 1 << 20
	root := t.TempDir()
	writeTestFile(t, root, "tiny.txt", "x")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	b, err := NewBuilder(h, cfg, m.Cache())
	require.NoError(t, err)
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	assert.Equal(t, Status{State: StateDisabled, Reason: ReasonBelowThreshold}, h.Status())
}

func TestBuilder_Build_BudgetExhaustionLeavesUncertain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.MemoryMaxBytes = 1
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha contents here")
	writeTestFile(t, root, "b.txt", "bravo contents here")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	b, err := NewBuilder(h, cfg, m.Cache())
	require.NoError(t, err)
	b.Start(context.Background())

	err = b.Wait()
	require.Error(t, err)
	assert.Equal(t, Status{State: StateUncertain, Reason: ReasonBuildBudgetExceeded}, h.Status())
	assert.False(t, h.Status().Excludable())
}

func TestBuilder_Build_OversizeFilesStayAdvisory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.MaxFileSize = 8
	root := t.TempDir()
	writeTestFile(t, root, "big.txt", strings.Repeat("data ", 10))
	writeTestFile(t, root, "small.txt", "ok")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	buildComplete(t, h, cfg, m.Cache())

	entry, err := h.Store().GetFile(context.Background(), "big.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.StatusOversize, entry.Status)

	// Oversize files are catalogued for ordering but never excluded.
	view, err := h.ExclusionView(context.Background())
	require.NoError(t, err)
	defer view.Release()
	grams, ok := bloom.PatternGrams("zqxjkv", cfg.Index.NgramSize, bloom.Sensitive)
	require.True(t, ok)
	assert.False(t, view.ProvesAbsent("big.txt", bloom.Sensitive, grams))
}

func TestBuilder_Build_BinaryFilesStayAdvisory(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "blob.bin", "head\x00tail")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	buildComplete(t, h, cfg, m.Cache())

	entry, err := h.Store().GetFile(context.Background(), "blob.bin")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.StatusBinary, entry.Status)
}

func TestBuilder_Rebuild_PrunesVanishedEntries(t *testing.T) {
	// Given: a completed catalog over two files
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "keep.txt", "keep")
	writeTestFile(t, root, "drop.txt", "drop")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	b := buildComplete(t, h, cfg, m.Cache())
	require.Equal(t, uint64(1), h.Epoch())

	// When: one file disappears and a rebuild runs
	removeFile(t, root, "drop.txt")
	b.Start(context.Background())
	require.NoError(t, b.Wait())

	// Then: the stale entry is gone and the epoch advanced
	require.Equal(t, StateComplete, h.Status().State)
	assert.Equal(t, uint64(2), h.Epoch())

	entry, err := h.Store().GetFile(context.Background(), "drop.txt")
	require.NoError(t, err)
	assert.Nil(t, entry)
	entry, err = h.Store().GetFile(context.Background(), "keep.txt")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestBuilder_Enumerate_CanonicalOrderStraddlesDirectories(t *testing.T) {
	// Given: a dotted file and a sibling directory whose names disagree
	// between walk order and ordering-key order
	cfg := testConfig(t)
	root := t.TempDir()
	writeTestFile(t, root, "config/deep.txt", "inner")
	writeTestFile(t, root, "config.yaml", "top: true")
	writeTestFile(t, root, "zulu.txt", "last")

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)
	b, err := NewBuilder(h, cfg, m.Cache())
	require.NoError(t, err)

	// When: the builder enumerates the tree
	files, enumFailed, err := b.enumerate(context.Background(), async.NewProgress())
	require.NoError(t, err)
	require.False(t, enumFailed)

	// Then: files come out in key order, dotted sibling first
	var got []string
	for _, f := range files {
		got = append(got, f.RelPath)
	}
	assert.Equal(t, []string{"config.yaml", "config/deep.txt", "zulu.txt"}, got)

	// And: a resumed build skips exactly the checkpointed prefix
	target := h.Epoch() + 1
	require.NoError(t, h.Store().SaveCheckpoint(context.Background(), &store.BuildCheckpoint{
		LastFile:      "config.yaml",
		CoverageEpoch: target,
		SavedAt:       time.Now(),
	}))
	rest := b.applyCheckpoint(context.Background(), files, target)
	got = got[:0]
	for _, f := range rest {
		got = append(got, f.RelPath)
	}
	assert.Equal(t, []string{"config/deep.txt", "zulu.txt"}, got)
}

func TestBuilder_Stop_IsBounded(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeTestFile(t, root, "f"+string(rune('a'+i))+".txt", "contents")
	}

	m, err := NewManager(cfg, "rg")
	require.NoError(t, err)
	defer m.Close()

	h, err := m.Acquire(context.Background(), root, Options{})
	require.NoError(t, err)

	b, err := NewBuilder(h, cfg, m.Cache())
	require.NoError(t, err)
	b.Start(context.Background())

	assert.True(t, b.Stop())
	// Stopping an idle builder is also fine.
	assert.True(t, b.Stop())
}
