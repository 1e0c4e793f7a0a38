package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/amangrep/internal/bloom"
)

// MemoryStore keeps a catalog entirely in process memory. It backs the
// memory storage mode and the fallback path when the persistent catalog
// cannot be used. Writes copy their inputs and replace map values, so a
// snapshot taken earlier keeps observing the rows it saw.
type MemoryStore struct {
	mu         sync.RWMutex
	meta       *MetaRecord
	files      map[string]*FileEntry
	blooms     map[string]map[bloom.Variant][]byte
	dirty      []DirtyEntry
	nextDirty  int64
	checkpoint *BuildCheckpoint
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]*FileEntry),
		blooms:    make(map[string]map[bloom.Variant][]byte),
		nextDirty: 1,
	}
}

func (s *MemoryStore) Meta(ctx context.Context) (*MetaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil, nil
	}
	m := *s.meta
	return &m, nil
}

func (s *MemoryStore) PutMeta(ctx context.Context, m *MetaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	if s.meta != nil {
		copied.CreatedAt = s.meta.CreatedAt
	}
	s.meta = &copied
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta != nil {
		m := *s.meta
		m.LastAccess = at
		s.meta = &m
	}
	return nil
}

func (s *MemoryStore) UpsertFiles(ctx context.Context, entries []*FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		copied := *e
		copied.OrderKey = append([]byte(nil), e.OrderKey...)
		s.files[e.RelPath] = &copied
	}
	return nil
}

func (s *MemoryStore) DeleteFiles(ctx context.Context, relPaths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range relPaths {
		delete(s.files, p)
		delete(s.blooms, p)
	}
	return nil
}

func (s *MemoryStore) DeleteSubtree(ctx context.Context, relDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := relDir + "/"
	for p := range s.files {
		if p == relDir || strings.HasPrefix(p, prefix) {
			delete(s.files, p)
			delete(s.blooms, p)
		}
	}
	return nil
}

func (s *MemoryStore) GetFile(ctx context.Context, relPath string) (*FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[relPath]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (s *MemoryStore) CountFiles(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.files)), nil
}

func (s *MemoryStore) PutBloom(ctx context.Context, relPath string, variant bloom.Variant, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVariant, ok := s.blooms[relPath]
	if !ok {
		byVariant = make(map[bloom.Variant][]byte, 2)
		s.blooms[relPath] = byVariant
	}
	byVariant[variant] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) EnqueueDirty(ctx context.Context, entries []DirtyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.ID = s.nextDirty
		s.nextDirty++
		if e.EnqueuedAt.IsZero() {
			e.EnqueuedAt = time.Now()
		}
		s.dirty = append(s.dirty, e)
	}
	return nil
}

func (s *MemoryStore) TakeDirty(ctx context.Context, limit int) ([]DirtyEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.dirty, func(i, j int) bool {
		a, b := s.dirty[i], s.dirty[j]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return a.ID < b.ID
	})

	n := limit
	if n > len(s.dirty) {
		n = len(s.dirty)
	}
	taken := make([]DirtyEntry, n)
	copy(taken, s.dirty[:n])
	s.dirty = append(s.dirty[:0], s.dirty[n:]...)
	return taken, nil
}

func (s *MemoryStore) ListDirty(ctx context.Context, limit int) ([]DirtyEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.dirty, func(i, j int) bool {
		a, b := s.dirty[i], s.dirty[j]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return a.ID < b.ID
	})

	n := limit
	if n > len(s.dirty) {
		n = len(s.dirty)
	}
	out := make([]DirtyEntry, n)
	copy(out, s.dirty[:n])
	return out, nil
}

func (s *MemoryStore) DirtyCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dirty)), nil
}

func (s *MemoryStore) ClearDirty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = nil
	return nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *BuildCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cp
	s.checkpoint = &copied
	return nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context) (*BuildCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	copied := *s.checkpoint
	return &copied, nil
}

func (s *MemoryStore) ClearCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = nil
	return nil
}

func (s *MemoryStore) OpenSnapshot(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.meta == nil {
		return nil, ErrNoMeta
	}
	meta := *s.meta

	files := make([]*FileEntry, 0, len(s.files))
	for _, e := range s.files {
		files = append(files, e)
	}
	sort.Slice(files, func(i, j int) bool {
		if c := bytes.Compare(files[i].OrderKey, files[j].OrderKey); c != 0 {
			return c < 0
		}
		return files[i].RelPath < files[j].RelPath
	})

	blooms := make(map[string]map[bloom.Variant][]byte, len(s.blooms))
	for p, byVariant := range s.blooms {
		inner := make(map[bloom.Variant][]byte, len(byVariant))
		for v, bits := range byVariant {
			inner[v] = bits
		}
		blooms[p] = inner
	}

	return &memorySnapshot{meta: &meta, files: files, blooms: blooms}, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type memorySnapshot struct {
	meta   *MetaRecord
	files  []*FileEntry
	blooms map[string]map[bloom.Variant][]byte
}

func (s *memorySnapshot) Files() []*FileEntry {
	return s.files
}

func (s *memorySnapshot) Bloom(relPath string, variant bloom.Variant) ([]byte, error) {
	byVariant, ok := s.blooms[relPath]
	if !ok {
		return nil, nil
	}
	return byVariant[variant], nil
}

func (s *memorySnapshot) Meta() *MetaRecord {
	return s.meta
}

func (s *memorySnapshot) Release() error {
	return nil
}
