package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

const (
	indexesDirName    = "indexes"
	locksDirName      = "locks"
	quarantineDirName = "quarantine"
	catalogFileName   = "catalog.db"
	accessMarkerName  = "last_access"
	quarantineNote    = "QUARANTINE.json"
)

// CacheManager owns the on-disk cache layout and its budgets. Every
// index lives in its own directory under <root>/indexes/<keyhash>, so
// evicting an index is a directory removal and quarantining one is a
// directory rename. Nothing under the searched tree is ever touched.
type CacheManager struct {
	root          string
	maxTotalBytes int64
	maxIndexes    int
}

// CacheEntry describes one index directory on disk.
type CacheEntry struct {
	KeyHash    string
	Dir        string
	SizeBytes  int64
	LastAccess time.Time
}

// QuarantineRecord is the manifest written next to a quarantined
// catalog so a later inspection can tell why it was pulled.
type QuarantineRecord struct {
	KeyHash       string    `json:"key_hash"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// DefaultCacheRoot returns the per-user cache directory for amangrep.
func DefaultCacheRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache directory: %w", err)
	}
	return filepath.Join(base, "amangrep"), nil
}

func NewCacheManager(root string, maxTotalBytes int64, maxIndexes int) *CacheManager {
	return &CacheManager{
		root:          root,
		maxTotalBytes: maxTotalBytes,
		maxIndexes:    maxIndexes,
	}
}

func (m *CacheManager) Root() string {
	return m.root
}

// IndexDir returns the directory holding one index's catalog.
func (m *CacheManager) IndexDir(keyHash string) string {
	return filepath.Join(m.root, indexesDirName, keyHash)
}

// DBPath returns the catalog database file for one index.
func (m *CacheManager) DBPath(keyHash string) string {
	return filepath.Join(m.IndexDir(keyHash), catalogFileName)
}

// LockPath returns the build-lock file for one index. Locks live
// outside the index directory so removing the index never removes a
// held lock.
func (m *CacheManager) LockPath(keyHash string) string {
	return filepath.Join(m.root, locksDirName, keyHash+".lock")
}

// Lock returns the cross-process build lock for one index.
func (m *CacheManager) Lock(keyHash string) *BuildLock {
	return NewBuildLock(m.LockPath(keyHash))
}

// EnsureOutsideTree rejects a cache root located inside the tree being
// searched. A cache inside the tree would show up in its own search
// results and churn the watcher.
func (m *CacheManager) EnsureOutsideTree(searchRoot string) error {
	cacheAbs, err := filepath.Abs(m.root)
	if err != nil {
		return fmt.Errorf("resolving cache root: %w", err)
	}
	searchAbs, err := filepath.Abs(searchRoot)
	if err != nil {
		return fmt.Errorf("resolving search root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(searchAbs); err == nil {
		searchAbs = resolved
	}
	if resolved, err := filepath.EvalSymlinks(cacheAbs); err == nil {
		cacheAbs = resolved
	}

	rel, err := filepath.Rel(searchAbs, cacheAbs)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return amerrors.New(amerrors.ErrCodeInvalidConfig,
			fmt.Sprintf("cache directory %s is inside the searched tree %s", cacheAbs, searchAbs),
			nil).WithSuggestion("set storage.cache_dir to a location outside the tree")
	}
	return nil
}

// TouchAccess records an index access for eviction ordering. The
// marker is a plain file whose mtime is the access time, so listing
// the cache never has to open any database.
func (m *CacheManager) TouchAccess(keyHash string) error {
	dir := m.IndexDir(keyHash)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	marker := filepath.Join(dir, accessMarkerName)
	now := time.Now().UTC()
	if err := renameio.WriteFile(marker, []byte(now.Format(time.RFC3339Nano)+"\n"), 0o644); err != nil {
		return fmt.Errorf("recording index access: %w", err)
	}
	return nil
}

// Entries lists every index directory with its size and last access.
func (m *CacheManager) Entries() ([]CacheEntry, error) {
	indexes := filepath.Join(m.root, indexesDirName)
	dirents, err := os.ReadDir(indexes)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}

	var entries []CacheEntry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(indexes, d.Name())
		entry := CacheEntry{KeyHash: d.Name(), Dir: dir}
		entry.SizeBytes = dirSize(dir)
		entry.LastAccess = accessTime(dir)
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].KeyHash < entries[j].KeyHash
	})
	return entries, nil
}

// TotalBytes sums the sizes of all index directories.
func (m *CacheManager) TotalBytes() (int64, error) {
	entries, err := m.Entries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total, nil
}

// EnforceLimits evicts indexes until the cache fits its budgets and
// returns the key hashes removed. Victims are chosen deterministically:
// least recently used first, then largest, then lowest key hash. An
// index whose build lock is held is skipped; a concurrent builder is
// about to make it recent again.
func (m *CacheManager) EnforceLimits() ([]string, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}

	overCount := func() bool {
		return m.maxIndexes > 0 && len(entries) > m.maxIndexes
	}
	overBytes := func() bool {
		return m.maxTotalBytes > 0 && total > m.maxTotalBytes
	}
	if !overCount() && !overBytes() {
		return nil, nil
	}

	victims := make([]CacheEntry, len(entries))
	copy(victims, entries)
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.KeyHash < b.KeyHash
	})

	var evicted []string
	for _, v := range victims {
		if !overCount() && !overBytes() {
			break
		}
		lock := m.Lock(v.KeyHash)
		held, err := lock.TryAcquire()
		if err != nil || !held {
			continue
		}
		removeErr := os.RemoveAll(v.Dir)
		lock.Release()
		if removeErr != nil {
			return evicted, fmt.Errorf("evicting index %s: %w", v.KeyHash, removeErr)
		}
		evicted = append(evicted, v.KeyHash)
		total -= v.SizeBytes
		entries = withoutKey(entries, v.KeyHash)
	}
	return evicted, nil
}

// Evict removes one index directory outright.
func (m *CacheManager) Evict(keyHash string) error {
	lock := m.Lock(keyHash)
	held, err := lock.TryAcquire()
	if err != nil {
		return err
	}
	if !held {
		return amerrors.New(amerrors.ErrCodeLockTimeout,
			fmt.Sprintf("index %s is in use", keyHash), nil)
	}
	defer lock.Release()
	if err := os.RemoveAll(m.IndexDir(keyHash)); err != nil {
		return fmt.Errorf("evicting index %s: %w", keyHash, err)
	}
	return nil
}

// Quarantine moves an index directory aside instead of deleting it, so
// a corrupt catalog stays available for inspection, and writes a
// manifest recording why. The moved-aside copy never serves another
// search.
func (m *CacheManager) Quarantine(keyHash, reason string) (string, error) {
	src := m.IndexDir(keyHash)
	if _, err := os.Stat(src); err != nil {
		return "", amerrors.New(amerrors.ErrCodeQuarantineFailed,
			fmt.Sprintf("index %s not found", keyHash), err)
	}

	qdir := filepath.Join(m.root, quarantineDirName)
	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return "", amerrors.New(amerrors.ErrCodeQuarantineFailed,
			"creating quarantine directory", err)
	}

	now := time.Now().UTC()
	dest := filepath.Join(qdir, fmt.Sprintf("%s-%d", keyHash, now.UnixNano()))
	if err := os.Rename(src, dest); err != nil {
		return "", amerrors.New(amerrors.ErrCodeQuarantineFailed,
			fmt.Sprintf("moving index %s aside", keyHash), err)
	}

	record := QuarantineRecord{KeyHash: keyHash, Reason: reason, QuarantinedAt: now}
	data, err := json.MarshalIndent(record, "", "  ")
	if err == nil {
		err = renameio.WriteFile(filepath.Join(dest, quarantineNote), append(data, '\n'), 0o644)
	}
	if err != nil {
		// The move already happened; a missing note does not undo it.
		return dest, amerrors.New(amerrors.ErrCodeQuarantineFailed,
			"writing quarantine record", err)
	}
	return dest, nil
}

// QuarantineEntries lists quarantined catalogs with their manifests.
func (m *CacheManager) QuarantineEntries() ([]QuarantineRecord, error) {
	qdir := filepath.Join(m.root, quarantineDirName)
	dirents, err := os.ReadDir(qdir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing quarantine: %w", err)
	}

	var records []QuarantineRecord
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		var rec QuarantineRecord
		data, err := os.ReadFile(filepath.Join(qdir, d.Name(), quarantineNote))
		if err == nil && json.Unmarshal(data, &rec) == nil {
			records = append(records, rec)
			continue
		}
		rec = QuarantineRecord{KeyHash: d.Name()}
		if info, err := d.Info(); err == nil {
			rec.QuarantinedAt = info.ModTime()
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].QuarantinedAt.Before(records[j].QuarantinedAt)
	})
	return records, nil
}

// PurgeQuarantine deletes quarantined catalogs older than the given
// age and returns how many were removed.
func (m *CacheManager) PurgeQuarantine(olderThan time.Duration) (int, error) {
	qdir := filepath.Join(m.root, quarantineDirName)
	dirents, err := os.ReadDir(qdir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing quarantine: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(qdir, d.Name())); err != nil {
			return removed, fmt.Errorf("purging %s: %w", d.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func withoutKey(entries []CacheEntry, keyHash string) []CacheEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.KeyHash != keyHash {
			out = append(out, e)
		}
	}
	return out
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func accessTime(dir string) time.Time {
	if info, err := os.Stat(filepath.Join(dir, accessMarkerName)); err == nil {
		return info.ModTime()
	}
	if info, err := os.Stat(dir); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}
