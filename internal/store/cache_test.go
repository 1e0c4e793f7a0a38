package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

// seedIndex creates an index directory with a payload of the given
// size and an access marker backdated by age.
func seedIndex(t *testing.T, m *CacheManager, keyHash string, size int, age time.Duration) {
	t.Helper()
	dir := m.IndexDir(keyHash)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalogFileName), make([]byte, size), 0o644))
	require.NoError(t, m.TouchAccess(keyHash))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(dir, accessMarkerName), stamp, stamp))
}

func TestCacheManager_Layout(t *testing.T) {
	// Given: a manager rooted in a temp directory
	root := t.TempDir()
	m := NewCacheManager(root, 0, 0)

	// Then: every index gets its own directory and a separate lock
	assert.Equal(t, filepath.Join(root, "indexes", "ff01"), m.IndexDir("ff01"))
	assert.Equal(t, filepath.Join(root, "indexes", "ff01", "catalog.db"), m.DBPath("ff01"))
	assert.Equal(t, filepath.Join(root, "locks", "ff01.lock"), m.LockPath("ff01"))
}

func TestCacheManager_EnsureOutsideTree(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))

	t.Run("cache inside the searched tree is rejected", func(t *testing.T) {
		m := NewCacheManager(filepath.Join(project, ".cache"), 0, 0)
		err := m.EnsureOutsideTree(project)
		require.Error(t, err)
		assert.Equal(t, amerrors.ErrCodeInvalidConfig, amerrors.GetCode(err))
	})

	t.Run("sibling cache is accepted", func(t *testing.T) {
		m := NewCacheManager(filepath.Join(base, "cache"), 0, 0)
		require.NoError(t, m.EnsureOutsideTree(project))
	})

	t.Run("searching inside the cache itself is rejected", func(t *testing.T) {
		cache := filepath.Join(base, "cache2")
		m := NewCacheManager(cache, 0, 0)
		err := m.EnsureOutsideTree(cache)
		require.Error(t, err)
	})
}

func TestCacheManager_EntriesReportSizeAndAccess(t *testing.T) {
	// Given: two seeded indexes of different sizes and ages
	m := NewCacheManager(t.TempDir(), 0, 0)
	seedIndex(t, m, "aaaa", 1024, 2*time.Hour)
	seedIndex(t, m, "bbbb", 4096, time.Minute)

	// When: listing the cache
	entries, err := m.Entries()
	require.NoError(t, err)

	// Then: both appear, sorted by key hash, with plausible sizes
	require.Len(t, entries, 2)
	assert.Equal(t, "aaaa", entries[0].KeyHash)
	assert.Equal(t, "bbbb", entries[1].KeyHash)
	assert.GreaterOrEqual(t, entries[0].SizeBytes, int64(1024))
	assert.GreaterOrEqual(t, entries[1].SizeBytes, int64(4096))
	assert.True(t, entries[0].LastAccess.Before(entries[1].LastAccess))

	total, err := m.TotalBytes()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, int64(5120))
}

func TestCacheManager_Entries_EmptyCache(t *testing.T) {
	m := NewCacheManager(t.TempDir(), 0, 0)
	entries, err := m.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCacheManager_EnforceLimits_CountEvictsLRU(t *testing.T) {
	// Given: three indexes with a budget of two
	m := NewCacheManager(t.TempDir(), 0, 2)
	seedIndex(t, m, "oldest", 100, 3*time.Hour)
	seedIndex(t, m, "middle", 100, 2*time.Hour)
	seedIndex(t, m, "newest", 100, time.Minute)

	// When: enforcing limits
	evicted, err := m.EnforceLimits()

	// Then: only the least recently used index is gone
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest"}, evicted)
	entries, err := m.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestCacheManager_EnforceLimits_BytesEvictsUntilUnderBudget(t *testing.T) {
	// Given: two indexes whose total exceeds the byte budget
	m := NewCacheManager(t.TempDir(), 6*1024, 0)
	seedIndex(t, m, "old-big", 5*1024, 2*time.Hour)
	seedIndex(t, m, "new-small", 4*1024, time.Minute)

	// When: enforcing limits
	evicted, err := m.EnforceLimits()

	// Then: evicting the older index already satisfies the budget
	require.NoError(t, err)
	assert.Equal(t, []string{"old-big"}, evicted)
}

func TestCacheManager_EnforceLimits_SameAgeEvictsLargerFirst(t *testing.T) {
	// Given: equal-age indexes over the count budget
	m := NewCacheManager(t.TempDir(), 0, 1)
	seedIndex(t, m, "small", 512, time.Hour)
	seedIndex(t, m, "large", 8192, time.Hour)
	// Pin the markers to one instant so only size decides.
	stamp := time.Now().Add(-time.Hour)
	for _, k := range []string{"small", "large"} {
		require.NoError(t, os.Chtimes(filepath.Join(m.IndexDir(k), accessMarkerName), stamp, stamp))
	}

	// When: enforcing limits
	evicted, err := m.EnforceLimits()

	// Then: the larger index goes first
	require.NoError(t, err)
	assert.Equal(t, []string{"large"}, evicted)
}

func TestCacheManager_EnforceLimits_SkipsLockedIndex(t *testing.T) {
	// Given: the LRU victim's build lock is held by another writer
	m := NewCacheManager(t.TempDir(), 0, 1)
	seedIndex(t, m, "busy-old", 100, 2*time.Hour)
	seedIndex(t, m, "idle-new", 100, time.Minute)

	lock := m.Lock("busy-old")
	held, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer lock.Release()

	// When: enforcing limits
	evicted, err := m.EnforceLimits()

	// Then: the locked index survives and the other one is evicted
	require.NoError(t, err)
	assert.Equal(t, []string{"idle-new"}, evicted)
	_, statErr := os.Stat(m.IndexDir("busy-old"))
	assert.NoError(t, statErr)
}

func TestCacheManager_EnforceLimits_NothingToDo(t *testing.T) {
	m := NewCacheManager(t.TempDir(), 1<<30, 100)
	seedIndex(t, m, "fine", 100, time.Minute)
	evicted, err := m.EnforceLimits()
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestCacheManager_Evict_RemovesDirectory(t *testing.T) {
	m := NewCacheManager(t.TempDir(), 0, 0)
	seedIndex(t, m, "gone", 100, time.Minute)

	require.NoError(t, m.Evict("gone"))

	_, err := os.Stat(m.IndexDir("gone"))
	assert.True(t, os.IsNotExist(err))
}

func TestCacheManager_Quarantine_MovesAsideWithRecord(t *testing.T) {
	// Given: an index directory with catalog contents
	m := NewCacheManager(t.TempDir(), 0, 0)
	seedIndex(t, m, "sick", 256, time.Minute)

	// When: quarantining it for a corruption finding
	dest, err := m.Quarantine("sick", "integrity check reported: row 14 missing")
	require.NoError(t, err)

	// Then: the original location is empty and the payload moved intact
	_, statErr := os.Stat(m.IndexDir("sick"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dest, catalogFileName))
	assert.NoError(t, statErr)

	// And: the manifest records the reason
	data, err := os.ReadFile(filepath.Join(dest, quarantineNote))
	require.NoError(t, err)
	var rec QuarantineRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "sick", rec.KeyHash)
	assert.Contains(t, rec.Reason, "integrity check")
	assert.False(t, rec.QuarantinedAt.IsZero())
}

func TestCacheManager_Quarantine_MissingIndexFails(t *testing.T) {
	m := NewCacheManager(t.TempDir(), 0, 0)
	_, err := m.Quarantine("ghost", "whatever")
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeQuarantineFailed, amerrors.GetCode(err))
}

func TestCacheManager_QuarantineEntries_ListsRecords(t *testing.T) {
	// Given: two quarantined catalogs
	m := NewCacheManager(t.TempDir(), 0, 0)
	seedIndex(t, m, "first", 64, time.Minute)
	seedIndex(t, m, "second", 64, time.Minute)
	_, err := m.Quarantine("first", "checksum mismatch")
	require.NoError(t, err)
	_, err = m.Quarantine("second", "undecodable checkpoint")
	require.NoError(t, err)

	// When: listing quarantine
	records, err := m.QuarantineEntries()

	// Then: both records come back with their reasons
	require.NoError(t, err)
	require.Len(t, records, 2)
	reasons := []string{records[0].Reason, records[1].Reason}
	assert.Contains(t, reasons, "checksum mismatch")
	assert.Contains(t, reasons, "undecodable checkpoint")
}

func TestCacheManager_PurgeQuarantine_RemovesOnlyOldEntries(t *testing.T) {
	// Given: one stale and one fresh quarantined catalog
	m := NewCacheManager(t.TempDir(), 0, 0)
	seedIndex(t, m, "stale", 64, time.Minute)
	seedIndex(t, m, "fresh", 64, time.Minute)
	staleDest, err := m.Quarantine("stale", "old corruption")
	require.NoError(t, err)
	_, err = m.Quarantine("fresh", "new corruption")
	require.NoError(t, err)

	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(staleDest, old, old))

	// When: purging entries older than thirty days
	removed, err := m.PurgeQuarantine(30 * 24 * time.Hour)

	// Then: only the stale one is gone
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	records, err := m.QuarantineEntries()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new corruption", records[0].Reason)
}

func TestDefaultCacheRoot_EndsWithProjectName(t *testing.T) {
	root, err := DefaultCacheRoot()
	require.NoError(t, err)
	assert.Equal(t, "amangrep", filepath.Base(root))
}
