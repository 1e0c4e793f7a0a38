// Package store persists the file catalog behind one index key: file
// entries with ordering keys and fingerprints, per-file Bloom bitsets,
// the dirty queue, and the index metadata record. Two implementations
// exist: a SQLite-backed store in WAL mode with one writer and a pool
// of readers, and an in-memory store used when persistence is
// unavailable or disabled. Readers always work from snapshots; a
// half-written catalog is never observable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Aman-CERP/amangrep/internal/bloom"
)

// ErrNoMeta is returned by OpenSnapshot when the catalog has no
// metadata record yet, meaning no build has ever written to it.
var ErrNoMeta = errors.New("catalog has no metadata")

// SchemaVersion identifies the persisted layout. A stored catalog with
// a different version is rebuilt under a fresh key, never migrated in
// place.
const SchemaVersion = 1

// TokenStatus records how far tokenization got for a file. Only
// StatusTokenized files can ever be excluded from a search.
type TokenStatus string

const (
	// StatusPending: catalogued but not yet tokenized.
	StatusPending TokenStatus = "pending"
	// StatusTokenized: both case-variant filters are stored.
	StatusTokenized TokenStatus = "tokenized"
	// StatusBinary: classified binary; searchable, never excludable.
	StatusBinary TokenStatus = "binary"
	// StatusOversize: beyond the size cap; searchable, never excludable.
	StatusOversize TokenStatus = "oversize"
	// StatusUnreadable: content could not be read at tokenize time.
	StatusUnreadable TokenStatus = "unreadable"
)

// FileEntry is one catalogued file.
type FileEntry struct {
	RelPath        string // slash separated, relative to the index root
	OrderKey       []byte // deterministic path sort key
	Size           int64
	MtimeNS        int64
	Fingerprint    uint64 // content hash when read, metadata hash otherwise
	Status         TokenStatus
	ConfirmedEpoch uint64 // coverage epoch at which the entry was last confirmed
}

// DirtyOp says what kind of work a dirty-queue entry represents.
type DirtyOp string

const (
	// DirtyUpsert: re-stat and re-tokenize one file.
	DirtyUpsert DirtyOp = "upsert"
	// DirtyDelete: drop one file from the catalog.
	DirtyDelete DirtyOp = "delete"
	// DirtySubtree: re-enumerate everything under a directory prefix.
	DirtySubtree DirtyOp = "subtree"
)

// DirtyEntry is one unit of pending incremental work, ordered by
// enqueue time then path so processing is deterministic.
type DirtyEntry struct {
	ID         int64
	RelPath    string
	Op         DirtyOp
	EnqueuedAt time.Time
}

// MetaRecord is the persisted metadata for one index key. The state
// machine lives above the store; this is its durable shadow.
type MetaRecord struct {
	KeyHash         string
	KeyJSON         string // canonical key serialization, for verification on open
	SchemaVersion   int
	State           string
	UncertainReason string // empty unless the state carries a reason
	CoverageEpoch   uint64
	Params          bloom.Params
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccess      time.Time
}

// BuildCheckpoint captures resumable build progress: the last file
// completed in enumeration order and the epoch the build is targeting.
// The dirty queue itself is persisted separately and needs no copy.
type BuildCheckpoint struct {
	LastFile      string    `json:"last_file"`
	CoverageEpoch uint64    `json:"coverage_epoch"`
	SavedAt       time.Time `json:"saved_at"`
}

// Snapshot is a consistent read-only view of the catalog. Bloom
// bitsets load lazily but always from the same instant as Files.
// Callers must Release when done.
type Snapshot interface {
	// Files returns every catalogued file ordered by OrderKey
	// ascending. The slice is owned by the snapshot; do not mutate.
	Files() []*FileEntry

	// Bloom returns the stored bitset for one file and variant, or
	// nil when none is stored.
	Bloom(relPath string, variant bloom.Variant) ([]byte, error)

	// Meta returns the metadata record as of the snapshot.
	Meta() *MetaRecord

	// Release ends the snapshot. Safe to call more than once.
	Release() error
}

// Store is the catalog persistence for one index key.
type Store interface {
	// Meta returns the metadata record, or nil when none exists yet.
	Meta(ctx context.Context) (*MetaRecord, error)
	// PutMeta writes the metadata record.
	PutMeta(ctx context.Context, m *MetaRecord) error
	// Touch updates the last-access timestamp used by eviction.
	Touch(ctx context.Context, at time.Time) error

	// UpsertFiles writes catalog entries in one transaction.
	UpsertFiles(ctx context.Context, entries []*FileEntry) error
	// DeleteFiles removes entries and their bitsets.
	DeleteFiles(ctx context.Context, relPaths []string) error
	// DeleteSubtree removes every entry under a directory prefix.
	DeleteSubtree(ctx context.Context, prefix string) error
	// GetFile returns one entry, or nil when absent.
	GetFile(ctx context.Context, relPath string) (*FileEntry, error)
	// CountFiles returns the number of catalogued files.
	CountFiles(ctx context.Context) (int64, error)

	// PutBloom stores one bitset.
	PutBloom(ctx context.Context, relPath string, variant bloom.Variant, data []byte) error

	// EnqueueDirty appends work items to the dirty queue.
	EnqueueDirty(ctx context.Context, entries []DirtyEntry) error
	// TakeDirty removes and returns up to limit entries in enqueue
	// order (time, then path).
	TakeDirty(ctx context.Context, limit int) ([]DirtyEntry, error)
	// ListDirty returns up to limit entries in the same order without
	// removing them. Searches use it to keep backlogged files in the
	// candidate set.
	ListDirty(ctx context.Context, limit int) ([]DirtyEntry, error)
	// DirtyCount returns the queue depth.
	DirtyCount(ctx context.Context) (int64, error)
	// ClearDirty empties the queue.
	ClearDirty(ctx context.Context) error

	// SaveCheckpoint persists build progress; LoadCheckpoint returns
	// nil when none is stored; ClearCheckpoint removes it.
	SaveCheckpoint(ctx context.Context, cp *BuildCheckpoint) error
	LoadCheckpoint(ctx context.Context) (*BuildCheckpoint, error)
	ClearCheckpoint(ctx context.Context) error

	// OpenSnapshot pins a consistent read view.
	OpenSnapshot(ctx context.Context) (Snapshot, error)

	// Close releases resources. The store is unusable afterwards.
	Close() error
}
