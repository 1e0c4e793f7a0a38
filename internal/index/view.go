package index

import (
	"context"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// ExclusionView is the only read path allowed to remove files from a
// candidate set. It can be constructed solely through Handle.ExclusionView,
// which refuses unless the resolved safety state is COMPLETE, so code
// holding one has the full soundness argument behind it: consistent
// snapshot, verified parameters, and a dirty-backlog veto.
type ExclusionView struct {
	snap   store.Snapshot
	params bloom.Params
	epoch  uint64
	byPath map[string]*store.FileEntry
	dirty  map[string]struct{}
}

// Epoch returns the coverage epoch the view was opened at.
func (v *ExclusionView) Epoch() uint64 {
	return v.epoch
}

// Params returns the Bloom parameters every filter in the view obeys.
func (v *ExclusionView) Params() bloom.Params {
	return v.params
}

// ProvesAbsent reports whether the view proves the pattern (given as
// its n-grams for one variant) cannot match the file. False means the
// file must stay in the candidate set; it never means "contains".
//
// A file qualifies for a proof only when it is catalogued, fully
// tokenized, and not sitting in the dirty backlog. Everything else
// stays searchable.
func (v *ExclusionView) ProvesAbsent(relPath string, variant bloom.Variant, grams []string) bool {
	if len(grams) == 0 {
		return false
	}
	entry, ok := v.byPath[relPath]
	if !ok || entry.Status != store.StatusTokenized {
		return false
	}
	if _, pending := v.dirty[relPath]; pending {
		return false
	}

	bits, err := v.snap.Bloom(relPath, variant)
	if err != nil || bits == nil {
		return false
	}
	filter, err := bloom.UnmarshalFilter(v.params, bits)
	if err != nil {
		// A filter that does not match its key's parameters proves
		// nothing; the file just stays in the candidate set.
		return false
	}
	return filter.ProvesAbsent(grams)
}

// Release ends the snapshot backing the view.
func (v *ExclusionView) Release() error {
	return v.snap.Release()
}

// AdvisoryView is the read path for partial or unvalidated catalogs.
// It serves cached ordering keys and file metadata and nothing else;
// it has no access to Bloom filters, so a caller holding one cannot
// accidentally exclude. Cached keys are validated against the caller's
// fresh stat before use.
type AdvisoryView struct {
	snap   store.Snapshot
	byPath map[string]*store.FileEntry
}

// OrderKey returns the cached ordering key for relPath when the cached
// fingerprint still matches the freshly observed size and mtime.
func (v *AdvisoryView) OrderKey(relPath string, size, mtimeNS int64) ([]byte, bool) {
	entry, ok := v.byPath[relPath]
	if !ok {
		return nil, false
	}
	if entry.Fingerprint != fingerprint(size, mtimeNS) {
		return nil, false
	}
	return entry.OrderKey, true
}

// FileCount returns the number of catalogued files in the view.
func (v *AdvisoryView) FileCount() int {
	return len(v.byPath)
}

// Release ends the snapshot backing the view.
func (v *AdvisoryView) Release() error {
	return v.snap.Release()
}

// openViewSnapshot pins a snapshot and indexes its files by path.
func openViewSnapshot(ctx context.Context, st store.Store) (store.Snapshot, map[string]*store.FileEntry, error) {
	snap, err := st.OpenSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	files := snap.Files()
	byPath := make(map[string]*store.FileEntry, len(files))
	for _, f := range files {
		byPath[f.RelPath] = f
	}
	return snap, byPath, nil
}
